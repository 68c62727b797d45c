package instance

import "os"

// GetID identifies this worker replica in logs. WORKER_ID wins when set;
// otherwise the pod/host name serves, with a fixed fallback for bare runs.
func GetID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
