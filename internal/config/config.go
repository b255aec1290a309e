// Package config assembles the root Config value from CLI flags and the
// environment (spec.md §6's flag table), validating it once at startup
// per spec.md §9's "global mutable state" design note: everything below is
// constructed into a single immutable value and passed explicitly to every
// subsystem constructor, never read back out of the environment again.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EndpointType selects the backend adapter (spec.md §4.4).
type EndpointType string

const (
	EndpointBlaze    EndpointType = "blaze"
	EndpointOmop     EndpointType = "omop"
	EndpointExporter EndpointType = "exporter"
	EndpointURLParam EndpointType = "urlparam"
)

// ObfuscateBelowTenMode selects the low-count policy (spec.md §4.5).
type ObfuscateBelowTenMode int

const (
	ModeZero ObfuscateBelowTenMode = iota
	ModeTen
	ModeLaplace
)

// Config is the fully validated, immutable root configuration.
type Config struct {
	BeamProxyURL   string
	BeamAppIDLong  string
	APIKey         string
	RetryCount     int
	EndpointURL    string
	EndpointType   EndpointType
	Obfuscate      bool
	ObfuscateZero  bool
	ObfuscateMode  ObfuscateBelowTenMode
	DeltaPatient   float64
	DeltaSpecimen  float64
	DeltaDiagnosis float64
	Epsilon        float64
	RoundingStep   int
	QueriesToCacheFilePath string
	TLSCACertificatesDir   string
	Provider               string
	ProviderIcon           string
	LogLevel               string
	URLParamBearerToken    string
}

// ErrMissingRequired is returned when a flag without a sane default is
// unset (exit code 1 per spec.md §6 "Exit code ... 1 on configuration
// failure").
type ErrMissingRequired struct{ Flag string }

func (e *ErrMissingRequired) Error() string {
	return fmt.Sprintf("config: required flag --%s is not set", e.Flag)
}

// flags mirrors spec.md §6's table. Each is also readable from the
// identically-named (upper-cased, dash-to-underscore) environment variable
// through pflag's default resolution below, after an optional .env load.
type flags struct {
	beamProxyURL   string
	beamAppIDLong  string
	apiKey         string
	retryCount     int
	endpointURL    string
	endpointType   string
	obfuscate      string
	obfuscateZero  bool
	obfuscateMode  int
	deltaPatient   float64
	deltaSpecimen  float64
	deltaDiagnosis float64
	epsilon        float64
	roundingStep   int
	queriesToCacheFilePath string
	tlsCACertificatesDir   string
	provider               string
	providerIcon           string
	logLevel               string
	urlParamBearerToken    string
}

// RegisterFlags wires spec.md §6's flag table onto a cobra command,
// returning the backing struct for Resolve to read after Execute parses.
func RegisterFlags(cmd *cobra.Command) *flags {
	f := &flags{}
	var fs *pflag.FlagSet = cmd.Flags()

	fs.StringVar(&f.beamProxyURL, "beam-proxy-url", envOr("BEAM_PROXY_URL", ""), "Broker base URL")
	fs.StringVar(&f.beamAppIDLong, "beam-app-id-long", envOr("BEAM_APP_ID_LONG", ""), "Self app identity")
	fs.StringVar(&f.apiKey, "api-key", envOr("API_KEY", ""), "Broker credential")
	fs.IntVar(&f.retryCount, "retry-count", envOrInt("RETRY_COUNT", 32), "DB/broker startup retries")
	fs.StringVar(&f.endpointURL, "endpoint-url", envOr("ENDPOINT_URL", ""), "Backend URL")
	fs.StringVar(&f.endpointType, "endpoint-type", envOr("ENDPOINT_TYPE", "blaze"), "Backend type (blaze, omop, exporter, urlparam)")
	fs.StringVar(&f.obfuscate, "obfuscate", envOr("OBFUSCATE", "yes"), "Obfuscation policy (yes/no)")
	fs.BoolVar(&f.obfuscateZero, "obfuscate-zero", envOrBool("OBFUSCATE_ZERO", true), "Obfuscate zero counts")
	fs.IntVar(&f.obfuscateMode, "obfuscate-below-10-mode", envOrInt("OBFUSCATE_BELOW_10_MODE", 2), "Low-count policy (0,1,2)")
	fs.Float64Var(&f.deltaPatient, "delta-patient", envOrFloat("DELTA_PATIENT", 1), "Patient sensitivity")
	fs.Float64Var(&f.deltaSpecimen, "delta-specimen", envOrFloat("DELTA_SPECIMEN", 20), "Specimen sensitivity")
	fs.Float64Var(&f.deltaDiagnosis, "delta-diagnosis", envOrFloat("DELTA_DIAGNOSIS", 3), "Diagnosis sensitivity")
	fs.Float64Var(&f.epsilon, "epsilon", envOrFloat("EPSILON", 0.1), "Privacy budget")
	fs.IntVar(&f.roundingStep, "rounding-step", envOrInt("ROUNDING_STEP", 10), "Rounding granularity")
	fs.StringVar(&f.queriesToCacheFilePath, "queries-to-cache-file-path", envOr("QUERIES_TO_CACHE_FILE_PATH", ""), "Optional fingerprint pre-seed file")
	fs.StringVar(&f.tlsCACertificatesDir, "tls-ca-certificates-dir", envOr("TLS_CA_CERTIFICATES_DIR", ""), "PEM trust store directory")
	fs.StringVar(&f.provider, "provider", envOr("PROVIDER", ""), "Imaging backend provider passthrough")
	fs.StringVar(&f.providerIcon, "provider-icon", envOr("PROVIDER_ICON", ""), "Imaging backend provider icon passthrough")
	fs.StringVar(&f.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "Log level")
	fs.StringVar(&f.urlParamBearerToken, "urlparam-bearer-token", envOr("URLPARAM_BEARER_TOKEN", ""), "Bearer token for the URL-param backend")

	return f
}

// Resolve validates the parsed flags into an immutable Config.
func (f *flags) Resolve() (Config, error) {
	if f.beamProxyURL == "" {
		return Config{}, &ErrMissingRequired{Flag: "beam-proxy-url"}
	}
	if f.beamAppIDLong == "" {
		return Config{}, &ErrMissingRequired{Flag: "beam-app-id-long"}
	}
	if f.apiKey == "" {
		return Config{}, &ErrMissingRequired{Flag: "api-key"}
	}

	endpointType := EndpointType(f.endpointType)
	switch endpointType {
	case EndpointBlaze, EndpointOmop, EndpointExporter, EndpointURLParam:
	default:
		return Config{}, fmt.Errorf("config: invalid --endpoint-type %q (want blaze, omop, exporter or urlparam)", f.endpointType)
	}

	mode := ObfuscateBelowTenMode(f.obfuscateMode)
	if mode != ModeZero && mode != ModeTen && mode != ModeLaplace {
		return Config{}, fmt.Errorf("config: invalid --obfuscate-below-10-mode %d (want 0, 1 or 2)", f.obfuscateMode)
	}

	return Config{
		BeamProxyURL:           f.beamProxyURL,
		BeamAppIDLong:          f.beamAppIDLong,
		APIKey:                 f.apiKey,
		RetryCount:             f.retryCount,
		EndpointURL:            f.endpointURL,
		EndpointType:           endpointType,
		Obfuscate:              parseYesNo(f.obfuscate),
		ObfuscateZero:          f.obfuscateZero,
		ObfuscateMode:          mode,
		DeltaPatient:           f.deltaPatient,
		DeltaSpecimen:          f.deltaSpecimen,
		DeltaDiagnosis:         f.deltaDiagnosis,
		Epsilon:                f.epsilon,
		RoundingStep:           f.roundingStep,
		QueriesToCacheFilePath: f.queriesToCacheFilePath,
		TLSCACertificatesDir:   f.tlsCACertificatesDir,
		Provider:               f.provider,
		ProviderIcon:           f.providerIcon,
		LogLevel:               f.logLevel,
		URLParamBearerToken:    f.urlParamBearerToken,
	}, nil
}

func parseYesNo(s string) bool {
	return s == "yes" || s == "true" || s == "1"
}

// LoadDotEnv loads a .env file if present; absence is not an error, matching
// the teacher's "non-fatal in production" convention.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func envOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

func envOrInt(name string, fallback int) int {
	if v, ok := os.LookupEnv(name); ok {
		var parsed int
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrFloat(name string, fallback float64) float64 {
	if v, ok := os.LookupEnv(name); ok {
		var parsed float64
		if _, err := fmt.Sscanf(v, "%g", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(name string, fallback bool) bool {
	if v, ok := os.LookupEnv(name); ok {
		return parseYesNo(v)
	}
	return fallback
}
