package measurement

import "strings"

// ValueKind selects the normalization rule applied to a parameter.
type ValueKind int

const (
	// KindNonNegative values are clamped to zero when negative.
	KindNonNegative ValueKind = iota
	// KindSigned values are passed through unchanged (temperature).
	KindSigned
	// KindCircular values are wrapped into [0, 360).
	KindCircular
)

func (k ValueKind) String() string {
	switch k {
	case KindSigned:
		return "signed"
	case KindCircular:
		return "circular"
	default:
		return "non_negative"
	}
}

// ParameterMapping translates one upstream field into a canonical parameter.
type ParameterMapping struct {
	// UpstreamKey is the field name in the upstream hourly series.
	UpstreamKey string

	// Name is the canonical parameter name.
	Name string

	// Unit is the canonical unit after conversion.
	Unit string

	Category Category
	Kind     ValueKind

	// Divisor converts the upstream unit into the canonical one.
	// Zero means no conversion.
	Divisor float64
}

// Convert applies the fixed unit conversion for this parameter.
func (m ParameterMapping) Convert(v float64) float64 {
	if m.Divisor == 0 || m.Divisor == 1 {
		return v
	}
	return v / m.Divisor
}

// Canonical units.
const (
	UnitMicrogramsPerM3 = "µg/m³"
	UnitMilligramsPerM3 = "mg/m³"
	UnitCelsius         = "°C"
	UnitPercent         = "%"
	UnitMetersPerSecond = "m/s"
	UnitDegrees         = "°"
	UnitMillimeters     = "mm"
	UnitHectopascal     = "hPa"
)

// AirQualityMappings returns the Open-Meteo air quality field mappings.
// Carbon monoxide arrives in µg/m³ and is stored in mg/m³.
func AirQualityMappings() []ParameterMapping {
	return []ParameterMapping{
		{UpstreamKey: "pm10", Name: "PM10", Unit: UnitMicrogramsPerM3, Category: CategoryAirQuality},
		{UpstreamKey: "pm2_5", Name: "PM2.5", Unit: UnitMicrogramsPerM3, Category: CategoryAirQuality},
		{UpstreamKey: "carbon_monoxide", Name: "CO", Unit: UnitMilligramsPerM3, Category: CategoryAirQuality, Divisor: 1000},
		{UpstreamKey: "nitrogen_dioxide", Name: "NO2", Unit: UnitMicrogramsPerM3, Category: CategoryAirQuality},
		{UpstreamKey: "sulphur_dioxide", Name: "SO2", Unit: UnitMicrogramsPerM3, Category: CategoryAirQuality},
		{UpstreamKey: "ozone", Name: "O3", Unit: UnitMicrogramsPerM3, Category: CategoryAirQuality},
	}
}

// WeatherMappings returns the Open-Meteo weather and archive field mappings.
func WeatherMappings() []ParameterMapping {
	return []ParameterMapping{
		{UpstreamKey: "temperature_2m", Name: "temperature", Unit: UnitCelsius, Category: CategoryWeather, Kind: KindSigned},
		{UpstreamKey: "relative_humidity_2m", Name: "humidity", Unit: UnitPercent, Category: CategoryWeather},
		{UpstreamKey: "wind_speed_10m", Name: "wind_speed", Unit: UnitMetersPerSecond, Category: CategoryWeather},
		{UpstreamKey: "wind_direction_10m", Name: "wind_direction", Unit: UnitDegrees, Category: CategoryWeather, Kind: KindCircular},
		{UpstreamKey: "precipitation", Name: "precipitation", Unit: UnitMillimeters, Category: CategoryWeather},
		{UpstreamKey: "surface_pressure", Name: "pressure", Unit: UnitHectopascal, Category: CategoryWeather},
	}
}

// HourlyFields joins the upstream keys of the mappings for an hourly= query.
func HourlyFields(mappings []ParameterMapping) string {
	keys := make([]string, 0, len(mappings))
	for _, m := range mappings {
		keys = append(keys, m.UpstreamKey)
	}
	return strings.Join(keys, ",")
}

// KindOf returns the value kind of a canonical parameter name. Unknown
// names are treated as non-negative.
func KindOf(name string) ValueKind {
	for _, m := range WeatherMappings() {
		if m.Name == name {
			return m.Kind
		}
	}
	return KindNonNegative
}
