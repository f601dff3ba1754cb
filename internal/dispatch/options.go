package dispatch

import (
	"os"
	"strconv"
)

// Options controls how the dispatcher connects to NATS/JetStream, adapted
// from the teacher's runtime.Options.
type Options struct {
	Enabled        bool
	URL            string
	Stream         string
	SubjectPrefix  string
	ConsumerName   string
	Embedded       bool
	EmbeddedPort   int
	WorkerPoolSize int
}

const defaultNATSURL = "nats://127.0.0.1:4222"

// EnvOptions builds dispatcher options from ORCHESTRA_NATS_* environment
// variables (SPEC_FULL §7.1), reusing the teacher's auto-detect-embedded
// convention: an explicit non-default URL disables the embedded server
// unless ORCHESTRA_NATS_EMBEDDED overrides it.
func EnvOptions() Options {
	natsURL := getenvDefault("ORCHESTRA_NATS_URL", defaultNATSURL)
	embeddedPort := getenvInt("ORCHESTRA_NATS_PORT", 4222)

	embedded := true
	if natsURL != defaultNATSURL {
		embedded = false
	}
	if val := os.Getenv("ORCHESTRA_NATS_EMBEDDED"); val != "" {
		embedded = getenvBool("ORCHESTRA_NATS_EMBEDDED", embedded)
	}

	return Options{
		Enabled:        getenvBool("ORCHESTRA_NATS_ENABLED", true),
		URL:            natsURL,
		Stream:         getenvDefault("ORCHESTRA_NATS_STREAM", "WORKFLOW_EVENTS"),
		SubjectPrefix:  getenvDefault("ORCHESTRA_NATS_SUBJECT_PREFIX", "wf.events"),
		ConsumerName:   getenvDefault("ORCHESTRA_NATS_CONSUMER", "orchestra-dispatcher"),
		Embedded:       embedded,
		EmbeddedPort:   embeddedPort,
		WorkerPoolSize: getenvInt("ORCHESTRA_NATS_WORKER_POOL_SIZE", 10),
	}
}

func getenvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
