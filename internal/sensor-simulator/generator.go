package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sensorlink/internal/model"
)

// ====== Tunables ======
const (
	// humidity relaxes towards this percentage
	baseHumidity = 50.0
	// temperature relaxes towards this value in °C
	baseTemperature = 24.0
	// share of the distance to the base value recovered per minute
	relaxPerMin = 0.05
	// the LED warms the enclosure by this much per minute while on
	ledHeatPerMin = 0.3

	humidityNoise    = 1.5
	temperatureNoise = 0.2
	motionChance     = 0.15
	soundChance      = 0.1
)

// DataGenerator keeps the simulated readings and lets them drift over time.
type DataGenerator struct {
	mu          sync.Mutex
	rnd         *rand.Rand
	last        time.Time
	humidity    float64
	temperature float64
	light       float64
}

// NewDataGenerator returns a generator; the same seed yields the same sequence.
// A zero seed picks one from the clock.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{
		rnd:         rand.New(rand.NewSource(seed)),
		humidity:    baseHumidity,
		temperature: baseTemperature,
	}
}

// Next advances the readings to now and returns a complete snapshot carrying led.
func (g *DataGenerator) Next(led float64, now time.Time) *model.SensorSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.last.IsZero() {
		g.last = now
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	g.last = now

	relax := math.Min(1, relaxPerMin*dtMin)
	g.humidity += (baseHumidity-g.humidity)*relax + g.rnd.NormFloat64()*humidityNoise
	g.temperature += (baseTemperature-g.temperature)*relax + g.rnd.NormFloat64()*temperatureNoise
	if led != 0 {
		g.temperature += ledHeatPerMin * dtMin
	}
	g.humidity = clamp(g.humidity, 0, 100)
	g.temperature = clamp(g.temperature, -20, 60)

	// light flips now and then, like a room lamp
	if g.rnd.Float64() < 0.05 {
		g.light = 1 - g.light
	}

	motion := 0.0
	if g.rnd.Float64() < motionChance {
		motion = 1
	}
	soundDetect := 0.0
	soundVolt := 0.05 + g.rnd.Float64()*0.1
	if g.rnd.Float64() < soundChance {
		soundDetect = 1
		soundVolt += 1 + g.rnd.Float64()
	}

	return &model.SensorSnapshot{
		Humidity:    round1(g.humidity),
		IRObject:    round1(g.temperature - 2 + g.rnd.Float64()),
		Led:         led,
		Motion:      motion,
		Temperature: round1(g.temperature),
		SoundDetect: model.Float(soundDetect),
		SoundVolt:   model.Float(math.Round(soundVolt*100) / 100),
		Light:       model.Float(g.light),
	}
}

// ===== Helpers =====

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
