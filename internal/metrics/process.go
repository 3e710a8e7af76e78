package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactd_proc_terminate_total",
		Help: "Signals sent to worker process groups",
	}, []string{"signal", "result"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactd_proc_wait_total",
		Help: "Worker exits observed after termination",
	}, []string{"result"})
)

// IncProcTerminate counts a termination signal.
func IncProcTerminate(signal, result string) {
	procTerminateTotal.WithLabelValues(allow(signal, "sigterm", "sigkill"), allow(result, "sent", "esrch", "error")).Inc()
}

// IncProcWait counts how a terminated worker exited.
func IncProcWait(result string) {
	procWaitTotal.WithLabelValues(allow(result, "exit0", "exit_nonzero", "forced_exit0", "forced_error")).Inc()
}
