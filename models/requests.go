package models

type PageLoadRequest struct {
	URL      string `json:"url" binding:"required"`
	Referrer string `json:"referrer"`
}

type InteractionBatch struct {
	Interactions []Interaction `json:"interactions" binding:"required,dive"`
}

type ConversionRequest struct {
	GoalID string   `json:"goalId" binding:"required"`
	Value  *float64 `json:"value"`
}

type PersonalizeRequest struct {
	Slot     string         `json:"slot" binding:"required"`
	Defaults map[string]any `json:"defaults"`
}

type VariationConversionRequest struct {
	VariationID string  `json:"variationId" binding:"required"`
	Value       float64 `json:"value"`
}
