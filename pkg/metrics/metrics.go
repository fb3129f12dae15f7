package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sigcopy_messages_total", Help: "Inbound messages by processing outcome"},
		[]string{"outcome"},
	)
	SendSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "sigcopy_send_seconds", Help: "Time spent sending forwarded signals"},
	)
)

func init() {
	prometheus.MustRegister(Messages, SendSeconds)
}

// Serve listens on addr and serves /metrics in the background. Errors after
// the listener is bound are sent to errc, which may be nil.
func Serve(addr string, errc chan<- error) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: couldn't listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux}
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) || errc == nil {
			return
		}
		errc <- fmt.Errorf("metrics: server stopped: %w", err)
	}()
	return srv, nil
}
