package decoy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/PPraveen007/Decoy/internal/anonymization"
	"github.com/PPraveen007/Decoy/internal/capture"
	"github.com/PPraveen007/Decoy/internal/logging"
	"github.com/PPraveen007/Decoy/internal/metrics"
)

// Appender persists captured interactions.
type Appender interface {
	Append(ctx context.Context, rec capture.Record) (int64, error)
}

// Alerter is told about every stored interaction. It must not block.
type Alerter interface {
	Alert(rec capture.Record)
}

type Options struct {
	Routes     *RouteTable
	Normalizer *capture.Normalizer
	Store      Appender
	Sink       *CredentialSink
	Logger     *slog.Logger
	// Metrics, Anonymizer and Alerter are optional.
	Metrics    *metrics.Metrics
	Anonymizer *anonymization.AnonymizationEngine
	Alerter    Alerter
	// LogCredentials writes submitted secrets to the operational log unmasked.
	LogCredentials bool
	ServerHeader   string
	AppendTimeout  time.Duration
}

// Dispatcher serves every decoy request: match a route, capture the
// interaction exactly once, run the credential sink, respond. Capture failures
// never change the response.
type Dispatcher struct {
	routes         *RouteTable
	normalizer     *capture.Normalizer
	store          Appender
	sink           *CredentialSink
	logger         *slog.Logger
	metrics        *metrics.Metrics
	anonymizer     *anonymization.AnonymizationEngine
	alerter        Alerter
	logCredentials bool
	serverHeader   string
	appendTimeout  time.Duration
}

func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		routes:         opts.Routes,
		normalizer:     opts.Normalizer,
		store:          opts.Store,
		sink:           opts.Sink,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		anonymizer:     opts.Anonymizer,
		alerter:        opts.Alerter,
		logCredentials: opts.LogCredentials,
		serverHeader:   opts.ServerHeader,
		appendTimeout:  opts.AppendTimeout,
	}
	if d.routes == nil {
		d.routes = NewRouteTable(nil, 0)
	}
	if d.normalizer == nil {
		d.normalizer = capture.NewNormalizer(0, nil)
	}
	if d.sink == nil {
		d.sink = NewCredentialSink(0, 0)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	if d.anonymizer == nil {
		d.anonymizer = anonymization.NewAnonymizationEngine(true, nil)
	}
	if d.appendTimeout <= 0 {
		d.appendTimeout = 5 * time.Second
	}
	return d
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := d.routes.Match(r.Method, r.URL.Path)
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("decoy.kind", string(route.Kind)),
		attribute.String("decoy.route", route.Name),
	)

	rec := d.capture(r, route)

	if route.CollectsCredentials() {
		if d.metrics != nil {
			d.metrics.CredentialAttempts.WithLabelValues(string(route.Kind)).Inc()
		}
		// Always rejected; the wait ends early if the client goes away.
		_ = d.sink.Submit(r.Context(), rec.Credentials)
	}

	route.Respond(r.Context(), rec).Write(w, d.serverHeader)
}

// capture normalizes r and appends it to the store. Every failure in here,
// panics included, is logged and counted; the record is still returned.
func (d *Dispatcher) capture(r *http.Request, route *Route) (rec capture.Record) {
	rec = d.normalizer.Normalize(r, route.Kind)
	if route.CollectsCredentials() {
		rec.Credentials = capture.ExtractFields(rec.Body, route.Credentials...)
	}

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("capture panicked",
				slog.String("route", route.Name),
				slog.String("panic", fmt.Sprint(p)),
			)
			if d.metrics != nil {
				d.metrics.CapturePanics.Inc()
				d.metrics.CaptureErrors.Inc()
			}
		}
	}()

	if d.store == nil {
		d.logger.Error("capture store not configured", slog.String("route", route.Name))
		if d.metrics != nil {
			d.metrics.CaptureErrors.Inc()
		}
		return rec
	}

	// A client disconnect must not abort the write.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), d.appendTimeout)
	defer cancel()

	start := time.Now()
	id, err := d.store.Append(ctx, rec)
	if err != nil {
		d.logger.Error("failed to capture interaction",
			slog.String("kind", string(rec.Kind)),
			slog.String("source", rec.SourceAddress),
			slog.String("path", rec.Path),
			slog.String("error", err.Error()),
		)
		if d.metrics != nil {
			d.metrics.CaptureErrors.Inc()
		}
		return rec
	}
	rec.ID = id

	if d.metrics != nil {
		d.metrics.ObserveCapture(string(rec.Kind), rec.Signals, rec.Body.Truncated, time.Since(start))
	}
	d.logAttack(r.Context(), rec)
	if d.alerter != nil {
		d.alerter.Alert(rec)
	}
	return rec
}

func (d *Dispatcher) logAttack(ctx context.Context, rec capture.Record) {
	attrs := []slog.Attr{
		slog.Int64("id", rec.ID),
		slog.String("kind", string(rec.Kind)),
		slog.String("source", rec.SourceAddress),
		slog.String("method", rec.Method),
		slog.String("path", rec.Path),
	}
	if rec.RawPath != "" && rec.RawPath != rec.Path {
		attrs = append(attrs, slog.String("raw_path", rec.RawPath))
	}
	if rec.Query != "" {
		q := rec.Query
		if !d.logCredentials {
			q = d.anonymizer.AnonymizeText(q)
		}
		attrs = append(attrs, slog.String("query", q))
	}
	if len(rec.Signals) > 0 {
		attrs = append(attrs, slog.String("signals", strings.Join(rec.Signals, ",")))
	}
	if len(rec.Credentials) > 0 {
		creds := rec.Credentials
		if !d.logCredentials {
			creds = d.anonymizer.MaskCredentials(creds)
		}
		for _, f := range creds {
			attrs = append(attrs, slog.String("cred."+f.Name, f.Value))
		}
	}
	attrs = append(attrs, slog.String("user_agent", rec.UserAgent))
	logging.Attack(ctx, d.logger, "interaction captured", attrs...)
}
