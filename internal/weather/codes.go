package weather

// Condition maps a WMO weather interpretation code to an icon and a short
// description. Unknown codes read as cloudy.
func Condition(code int) (icon, description string) {
	switch code {
	case 0:
		return "sunny.png", "Clear"
	case 1, 2:
		return "partly_cloudy.png", "Partly Cloudy"
	case 3:
		return "cloudy.png", "Cloudy"
	case 45, 48:
		return "fog.png", "Foggy"
	case 51, 53, 55:
		return "drizzle.png", "Drizzle"
	case 61, 63, 65, 80, 81, 82:
		return "rainy.png", "Rainy"
	case 71, 73, 75, 77:
		return "snowy.png", "Snowy"
	case 95, 96, 99:
		return "stormy.png", "Stormy"
	}
	return "cloudy.png", "Cloudy"
}

type fallbackPattern struct {
	code int
	high float64
	low  float64
}

// Shown in rotation when no forecast can be fetched or read from cache
var fallbackPatterns = []fallbackPattern{
	{code: 0, high: 72, low: 58},
	{code: 2, high: 68, low: 55},
	{code: 3, high: 65, low: 52},
	{code: 61, high: 60, low: 50},
}
