// Package config loads the daemon configuration from a YAML file with
// SCENT_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/sweeney/scent-dispenser/internal/logic"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to environment overrides, e.g. SCENT_SERIAL_PORT.
const EnvPrefix = "SCENT"

// DefaultIngredients maps ingredient names to channels (1-10) when the file has no ingredients table.
var DefaultIngredients = map[string]int{
	"omija":          1,
	"persimmon":      2,
	"ginkgo":         3,
	"gyeongpodae":    4,
	"hydrangea_tea":  5,
	"taebaek":        6,
	"buckwheat":      7,
	"potato_blossom": 8,
	"anmok_beach":    9,
	"pine":           10,
}

type Config struct {
	Serial      SerialConfig     `mapstructure:"serial"`
	MQTT        MQTTConfig       `mapstructure:"mqtt"`
	Web         WebConfig        `mapstructure:"web"`
	Heartbeat   HeartbeatConfig  `mapstructure:"heartbeat"`
	Hardware    HardwareConfig   `mapstructure:"hardware"`
	Sensor      SensorConfig     `mapstructure:"sensor"`
	Model       ModelConfig      `mapstructure:"model"`
	Sniff       SniffConfig      `mapstructure:"sniff"`
	Stage       StageConfig      `mapstructure:"stage"`
	Controller  ControllerConfig `mapstructure:"controller"`
	API         APIConfig        `mapstructure:"api"`
	Ingredients map[string]int   `mapstructure:"ingredients"`

	settings map[string]any
}

type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Topic       string `mapstructure:"topic"`
	SystemTopic string `mapstructure:"system_topic"`
	BufferSize  int    `mapstructure:"buffer_size"`
}

type WebConfig struct {
	Addr       string        `mapstructure:"addr"`
	WSInterval time.Duration `mapstructure:"ws_interval"`
}

type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// HardwareConfig holds line offsets and device paths.
// Sniff sensors may live on a separate chip such as an I/O expander.
type HardwareConfig struct {
	GPIOChip           string `mapstructure:"gpio_chip"`
	SniffChip          string `mapstructure:"sniff_chip"`
	PumpPins           []int  `mapstructure:"pump_pins"`
	SniffSensorPins    []int  `mapstructure:"sniff_sensor_pins"`
	BottlePin          int    `mapstructure:"bottle_pin"`
	TopLimitPin        int    `mapstructure:"top_limit_pin"`
	BottomLimitPin     int    `mapstructure:"bottom_limit_pin"`
	StepPin            int    `mapstructure:"step_pin"`
	DirPin             int    `mapstructure:"dir_pin"`
	PWMChip            string `mapstructure:"pwm_chip"`
	SniffServoChannels []int  `mapstructure:"sniff_servo_channels"`
	CoverServoChannel  int    `mapstructure:"cover_servo_channel"`
}

type SensorConfig struct {
	IIODir string        `mapstructure:"iio_dir"`
	Period time.Duration `mapstructure:"period"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

type ChannelRate struct {
	BaseRateMsPerMl        float64 `mapstructure:"base_rate_ms_per_ml"`
	MaxCompensationMsPerMl float64 `mapstructure:"max_compensation_ms_per_ml"`
}

type ModelConfig struct {
	TempMin     float64       `mapstructure:"temp_min"`
	TempMax     float64       `mapstructure:"temp_max"`
	PumpTimeMin time.Duration `mapstructure:"pump_time_min"`
	Channels    []ChannelRate `mapstructure:"channels"`
}

type SniffConfig struct {
	Debounce       time.Duration `mapstructure:"debounce"`
	RetriggerGuard time.Duration `mapstructure:"retrigger_guard"`
	Hold           time.Duration `mapstructure:"hold"`
	OpenAngle      int           `mapstructure:"open_angle"`
	RestAngle      int           `mapstructure:"rest_angle"`
}

type StageConfig struct {
	MaxSteps     int           `mapstructure:"max_steps"`
	PulseWidth   time.Duration `mapstructure:"pulse_width"`
	StepInterval time.Duration `mapstructure:"step_interval"`
}

type ControllerConfig struct {
	TestCommands     bool          `mapstructure:"test_commands"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	CoverHold        time.Duration `mapstructure:"cover_hold"`
	CoverOpenAngle   int           `mapstructure:"cover_open_angle"`
	CoverClosedAngle int           `mapstructure:"cover_closed_angle"`
	DispenseMargin   time.Duration `mapstructure:"dispense_margin"`
}

// APIConfig bounds recipes submitted over HTTP.
type APIConfig struct {
	MinIngredients int     `mapstructure:"min_ingredients"`
	MaxIngredients int     `mapstructure:"max_ingredients"`
	MinTotalMl     float64 `mapstructure:"min_total_ml"`
	MaxTotalMl     float64 `mapstructure:"max_total_ml"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "/dev/ttyAMA0")
	v.SetDefault("serial.baud", 115200)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "scent-dispenser")
	v.SetDefault("mqtt.topic", "scent/dispenser/events")
	v.SetDefault("mqtt.system_topic", "scent/dispenser/system")
	v.SetDefault("mqtt.buffer_size", 1000)

	v.SetDefault("web.addr", ":80")
	v.SetDefault("web.ws_interval", "1s")

	v.SetDefault("heartbeat.interval", "15m")

	v.SetDefault("hardware.gpio_chip", "gpiochip0")
	v.SetDefault("hardware.sniff_chip", "gpiochip2")
	v.SetDefault("hardware.pump_pins", []int{4, 17, 27, 22, 5, 6, 13, 19, 26, 21})
	v.SetDefault("hardware.sniff_sensor_pins", []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	v.SetDefault("hardware.bottle_pin", 20)
	v.SetDefault("hardware.top_limit_pin", 16)
	v.SetDefault("hardware.bottom_limit_pin", 12)
	v.SetDefault("hardware.step_pin", 23)
	v.SetDefault("hardware.dir_pin", 24)
	v.SetDefault("hardware.pwm_chip", "/sys/class/pwm/pwmchip2")
	v.SetDefault("hardware.sniff_servo_channels", []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	v.SetDefault("hardware.cover_servo_channel", 10)

	v.SetDefault("sensor.iio_dir", "/sys/bus/iio/devices/iio:device0")
	v.SetDefault("sensor.period", "5s")
	v.SetDefault("sensor.max_age", "30s")

	v.SetDefault("model.temp_min", 24.0)
	v.SetDefault("model.temp_max", 32.8)
	v.SetDefault("model.pump_time_min", "100ms")
	channels := make([]map[string]any, logic.NumChannels)
	for i := range channels {
		channels[i] = map[string]any{
			"base_rate_ms_per_ml":        1200.0,
			"max_compensation_ms_per_ml": -150.0,
		}
	}
	v.SetDefault("model.channels", channels)

	v.SetDefault("sniff.debounce", "50ms")
	v.SetDefault("sniff.retrigger_guard", "3s")
	v.SetDefault("sniff.hold", "2s")
	v.SetDefault("sniff.open_angle", 90)
	v.SetDefault("sniff.rest_angle", 0)

	v.SetDefault("stage.max_steps", 20000)
	v.SetDefault("stage.pulse_width", "500us")
	v.SetDefault("stage.step_interval", "500us")

	v.SetDefault("controller.test_commands", true)
	v.SetDefault("controller.poll_interval", "5ms")
	v.SetDefault("controller.tick_interval", "20ms")
	v.SetDefault("controller.cover_hold", "2s")
	v.SetDefault("controller.cover_open_angle", 90)
	v.SetDefault("controller.cover_closed_angle", 0)
	v.SetDefault("controller.dispense_margin", "2s")

	v.SetDefault("api.min_ingredients", 1)
	v.SetDefault("api.max_ingredients", 7)
	v.SetDefault("api.min_total_ml", 14.0)
	v.SetDefault("api.max_total_ml", 15.1)
}

// Load reads the YAML file at path. A missing file is not an error: defaults
// and environment overrides still apply. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	settings := v.AllSettings()
	if len(cfg.Ingredients) == 0 {
		cfg.Ingredients = make(map[string]int, len(DefaultIngredients))
		for name, ch := range DefaultIngredients {
			cfg.Ingredients[name] = ch
		}
		settings["ingredients"] = cfg.Ingredients
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.settings = settings
	return &cfg, nil
}

// Validate checks ranges and table sizes.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Serial.Port != "", "serial.port is required")
	check(c.Serial.Baud > 0, "serial.baud must be positive, got %d", c.Serial.Baud)
	check(c.MQTT.Broker != "", "mqtt.broker is required")
	check(c.Web.WSInterval > 0, "web.ws_interval must be positive")

	check(len(c.Hardware.PumpPins) == logic.NumChannels, "hardware.pump_pins needs %d entries, got %d", logic.NumChannels, len(c.Hardware.PumpPins))
	check(len(c.Hardware.SniffSensorPins) == logic.NumChannels, "hardware.sniff_sensor_pins needs %d entries, got %d", logic.NumChannels, len(c.Hardware.SniffSensorPins))
	check(len(c.Hardware.SniffServoChannels) == logic.NumChannels, "hardware.sniff_servo_channels needs %d entries, got %d", logic.NumChannels, len(c.Hardware.SniffServoChannels))

	check(c.Sensor.Period > 0, "sensor.period must be positive")
	check(c.Sensor.MaxAge >= 0, "sensor.max_age must not be negative")

	check(c.Model.TempMin <= c.Model.TempMax, "model.temp_min %.1f above model.temp_max %.1f", c.Model.TempMin, c.Model.TempMax)
	check(c.Model.PumpTimeMin >= 0, "model.pump_time_min must not be negative")
	check(len(c.Model.Channels) == logic.NumChannels, "model.channels needs %d entries, got %d", logic.NumChannels, len(c.Model.Channels))
	for i, ch := range c.Model.Channels {
		check(ch.BaseRateMsPerMl > 0, "model.channels[%d].base_rate_ms_per_ml must be positive", i)
	}

	check(c.Sniff.Debounce >= 0 && c.Sniff.RetriggerGuard >= 0 && c.Sniff.Hold >= 0, "sniff timings must not be negative")
	check(c.Stage.MaxSteps > 0, "stage.max_steps must be positive")
	check(c.Controller.PollInterval > 0, "controller.poll_interval must be positive")
	check(c.Controller.TickInterval > 0, "controller.tick_interval must be positive")
	check(c.Controller.DispenseMargin >= 0, "controller.dispense_margin must not be negative")
	check(c.Controller.CoverHold >= 0, "controller.cover_hold must not be negative")

	check(c.API.MinIngredients >= 1 && c.API.MinIngredients <= c.API.MaxIngredients,
		"api ingredient bounds invalid: %d..%d", c.API.MinIngredients, c.API.MaxIngredients)
	check(c.API.MinTotalMl <= c.API.MaxTotalMl, "api total bounds invalid: %.1f..%.1f", c.API.MinTotalMl, c.API.MaxTotalMl)
	for name, ch := range c.Ingredients {
		check(ch >= 1 && ch <= logic.NumChannels, "ingredient %q: channel %d out of range", name, ch)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LogicModel converts the model section for the temperature model.
func (c *Config) LogicModel() logic.ModelConfig {
	m := logic.ModelConfig{
		TempMin:     c.Model.TempMin,
		TempMax:     c.Model.TempMax,
		PumpTimeMin: c.Model.PumpTimeMin,
	}
	for i := range m.Channels {
		if i < len(c.Model.Channels) {
			m.Channels[i] = logic.ChannelConfig{
				BaseRateMsPerMl:        c.Model.Channels[i].BaseRateMsPerMl,
				MaxCompensationMsPerMl: c.Model.Channels[i].MaxCompensationMsPerMl,
			}
		}
	}
	return m
}

// SniffTiming converts the sniff section.
func (c *Config) SniffTiming() logic.SniffTiming {
	return logic.SniffTiming{
		Debounce:       c.Sniff.Debounce,
		RetriggerGuard: c.Sniff.RetriggerGuard,
		Hold:           c.Sniff.Hold,
	}
}

// Dump writes the effective settings as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.settings); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
