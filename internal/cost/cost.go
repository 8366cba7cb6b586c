// Package cost estimates the provider charge for a generation request.
// Prices are per rendered second and depend on model and output size.
package cost

// Details is the cost breakdown attached to a history entry at submission.
// It is cleared when a generation fails (failed jobs are not billed).
type Details struct {
	PricePerSecond float64 `json:"price_per_second"`
	Seconds        int     `json:"seconds"`
	Total          float64 `json:"total"`
	Currency       string  `json:"currency"`
}

// highRes sizes bill at the pro model's premium rate.
var highRes = map[string]bool{
	"1024x1792": true,
	"1792x1024": true,
}

func pricePerSecond(model, size string) float64 {
	switch model {
	case "sora-2-pro":
		if highRes[size] {
			return 0.50
		}
		return 0.30
	default: // sora-2
		return 0.10
	}
}

// Calculate returns the estimated cost for one generation.
func Calculate(model, size string, seconds int) *Details {
	pps := pricePerSecond(model, size)
	return &Details{
		PricePerSecond: pps,
		Seconds:        seconds,
		Total:          pps * float64(seconds),
		Currency:       "USD",
	}
}
