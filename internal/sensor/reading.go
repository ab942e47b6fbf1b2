package sensor

// Reading is one sampled triple from an environmental sensor. Nil fields
// mean the read failed; a failed read is never reported as zero.
type Reading struct {
	SensorID    int      `json:"sensor_id"`
	CO2         *float64 `json:"co2"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

// Empty returns the all-absent Reading used when a sensor could not be read.
func Empty(id int) Reading { return Reading{SensorID: id} }

// registerMap fixes where the measurement floats live in a device's input
// registers. Each value spans two registers (IEEE-754 float32, big-endian).
// The VOC-capable variant shifts temperature and humidity up to make room
// for its extra channels.
type registerMap struct {
	co2         uint16
	temperature uint16
	humidity    uint16
}

var (
	vocRegisters      = registerMap{co2: 0, temperature: 4, humidity: 6}
	standardRegisters = registerMap{co2: 0, temperature: 2, humidity: 4}
)
