package weather

// Icon names understood by the dashboard.
const (
	IconSun     = "sun"
	IconCloud   = "cloud"
	IconDrizzle = "drizzle"
	IconRain    = "rain"
	IconSnow    = "snow"
	IconStorm   = "storm"
)

// Condition is the display form of a WMO weather code.
type Condition struct {
	Icon string
	Text string
}

// Describe maps a WMO weather interpretation code to an icon and text.
// Unknown codes read as cloudy.
func Describe(code int) Condition {
	switch code {
	case 0:
		return Condition{IconSun, "Sunny"}
	case 1:
		return Condition{IconSun, "Clear"}
	case 2:
		return Condition{IconCloud, "Partly cloudy"}
	case 3:
		return Condition{IconCloud, "Cloudy"}
	case 45, 48:
		return Condition{IconCloud, "Foggy"}
	case 51, 53, 55, 56, 57:
		return Condition{IconDrizzle, "Drizzle"}
	case 61, 63, 65, 66, 67:
		return Condition{IconRain, "Rain"}
	case 71, 73, 75, 77:
		return Condition{IconSnow, "Snow"}
	case 80, 81, 82:
		return Condition{IconRain, "Rain showers"}
	case 85, 86:
		return Condition{IconSnow, "Snow showers"}
	case 95, 96, 99:
		return Condition{IconStorm, "Thunderstorm"}
	}
	return Condition{IconCloud, "Cloudy"}
}
