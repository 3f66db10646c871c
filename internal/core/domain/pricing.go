package domain

// ModelPricing is one cost-table entry. Match is a case-insensitive
// substring tested against the response model identifier; the first
// matching entry wins, so table order matters. Prices are USD per
// million tokens.
type ModelPricing struct {
	Match         string  `yaml:"match" json:"match"`
	InputPerMTok  float64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" json:"output_per_mtok"`
}
