package prometheus

import (
	"bufio"
	"io"
	"net/http"
	"strconv"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
)

// Source is what the exporter reads on every scrape. *goGuard.Engine implements it.
type Source interface {
	MetricsSnapshot() goGuard.MetricsSnapshot
	AuditDropped() uint64
	ActiveSecretCount() int
}

// Exporter renders engine metrics in the Prometheus text exposition format.
type Exporter struct {
	source Source
}

// New returns an exporter reading from source, usually a *goGuard.Engine.
func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current metrics. Mount it on /metrics.
func (x *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = x.WriteTo(w)
	})
}

// Render returns the exposition as a string. It is empty when metrics are disabled
// and nothing was dropped.
func (x *Exporter) Render() string {
	var b strings.Builder
	_, _ = x.WriteTo(&b)
	return b.String()
}

// WriteTo writes the exposition to w.
func (x *Exporter) WriteTo(w io.Writer) (int64, error) {
	if x == nil || x.source == nil {
		return 0, nil
	}
	snapshot := x.source.MetricsSnapshot()
	dropped := x.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return 0, nil
	}

	ew := &expoWriter{w: bufio.NewWriter(w)}
	for _, def := range internaldefs.CounterDefs {
		ew.header(def.Name, def.Help, "counter")
		ew.sample(def.Name, "", snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		ew.header(def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			ew.sample(def.Name+"_bucket", `le="`+le+`"`, cumulative[i])
		}
		ew.sample(def.Name+"_count", "", cumulative[len(cumulative)-1])
		// Snapshots keep bucket counts only.
		ew.sample(def.Name+"_sum", "", 0)
	}

	ew.header(internaldefs.AuditDroppedName, "Audit entries dropped by a full async buffer.", "counter")
	ew.sample(internaldefs.AuditDroppedName, "", dropped)

	ew.header("goguard_active_signing_secrets", "Signing secrets accepted for verification.", "gauge")
	ew.sample("goguard_active_signing_secrets", "", uint64(x.source.ActiveSecretCount()))

	return ew.flush()
}

type expoWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (e *expoWriter) write(s string) {
	if e.err != nil {
		return
	}
	n, err := e.w.WriteString(s)
	e.n += int64(n)
	e.err = err
}

func (e *expoWriter) header(name, help, kind string) {
	e.write("# HELP " + name + " " + escapeHelp(help) + "\n")
	e.write("# TYPE " + name + " " + kind + "\n")
}

func (e *expoWriter) sample(name, labels string, value uint64) {
	if labels != "" {
		name += "{" + labels + "}"
	}
	e.write(name + " " + strconv.FormatUint(value, 10) + "\n")
}

func (e *expoWriter) flush() (int64, error) {
	if e.err != nil {
		return e.n, e.err
	}
	return e.n, e.w.Flush()
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	return strings.ReplaceAll(help, "\n", "\\n")
}
