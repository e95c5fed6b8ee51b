package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kbukum/imgflow/component"
	"github.com/kbukum/imgflow/logger"
)

// Summary prints what a process wired at startup. Everything it shows is
// read from the registered components: Describable ones are listed by type,
// RouteProviders contribute their routes.
type Summary struct {
	name, version string
	took          time.Duration
	out           io.Writer
}

// NewSummary creates a Summary writing to stdout.
func NewSummary(name, version string) *Summary {
	return &Summary{name: name, version: version, out: os.Stdout}
}

// SetOutput redirects the summary.
func (s *Summary) SetOutput(w io.Writer) { s.out = w }

// SetStartupDuration records how long startup took.
func (s *Summary) SetStartupDuration(d time.Duration) { s.took = d }

// DisplaySummary writes the summary for the components in registry, which
// may be nil.
func (s *Summary) DisplaySummary(registry *component.Registry, log *logger.Logger) {
	fmt.Fprintf(s.out, "\n%s v%s started in %.2fs\n", s.name, s.version, s.took.Seconds())
	if registry == nil {
		fmt.Fprintln(s.out)
		return
	}

	var infra, workers []component.Description
	var routes []component.Route
	for _, c := range registry.All() {
		if d, ok := c.(component.Describable); ok {
			desc := d.Describe()
			if desc.Name == "" {
				desc.Name = c.Name()
			}
			if desc.Type == "worker" {
				workers = append(workers, desc)
			} else {
				infra = append(infra, desc)
			}
		}
		if rp, ok := c.(component.RouteProvider); ok {
			routes = append(routes, rp.Routes()...)
		}
	}

	s.section("Infrastructure", len(infra), func(tw io.Writer, i int) {
		d := infra[i]
		if d.Port > 0 {
			fmt.Fprintf(tw, "[%s]\t%s\t%s (:%d)\n", d.Type, d.Name, d.Details, d.Port)
			return
		}
		fmt.Fprintf(tw, "[%s]\t%s\t%s\n", d.Type, d.Name, d.Details)
	})
	s.section(fmt.Sprintf("Stage workers (%d)", len(workers)), len(workers), func(tw io.Writer, i int) {
		fmt.Fprintf(tw, "%s\t%s\n", workers[i].Name, workers[i].Details)
	})
	s.section(fmt.Sprintf("Routes (%d)", len(routes)), len(routes), func(tw io.Writer, i int) {
		fmt.Fprintf(tw, "%s\t%s\t-> %s\n", routes[i].Method, routes[i].Path, routes[i].Handler)
	})

	health := registry.HealthAll(context.Background())
	s.section("Health", len(health), func(tw io.Writer, i int) {
		h := health[i]
		if h.Message != "" {
			fmt.Fprintf(tw, "%s\t%s\t(%s)\n", h.Name, h.Status, h.Message)
			return
		}
		fmt.Fprintf(tw, "%s\t%s\n", h.Name, h.Status)
	})
	if st := component.Worst(health); st != component.StatusHealthy && log != nil {
		log.Warn("Not every component is healthy", map[string]interface{}{logger.FieldStatus: string(st)})
	}
	fmt.Fprintln(s.out)
}

func (s *Summary) section(title string, n int, row func(tw io.Writer, i int)) {
	if n == 0 {
		return
	}
	fmt.Fprintf(s.out, "\n%s\n", title)
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for i := 0; i < n; i++ {
		fmt.Fprint(tw, "   ", treePrefix(i, n), " ")
		row(tw, i)
	}
	_ = tw.Flush()
}

func treePrefix(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}
