package sensor

// Reading is one converted temperature and humidity sample.
type Reading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Sensor is a source of readings, either real hardware or a simulation.
type Sensor interface {
	Read() (Reading, error)
	Close() error
}
