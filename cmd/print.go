package cmd

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/eventflow/faasctl/function"
)

func renderFunctions(fns function.Functions, now time.Time) string {
	if len(fns) == 0 {
		return "No functions found.\n"
	}

	buf := &bytes.Buffer{}
	w := tabwriter.NewWriter(buf, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tREADY\tSOURCE\tIMAGE\tAGE")
	for _, fn := range fns {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			fn.Name, status(fn), fn.ReadyReplicas, fn.DesiredReplicas, source(fn), fn.Image, age(fn.CreatedAt, now))
	}
	w.Flush()
	return buf.String()
}

func renderFunction(fn *function.Function, now time.Time) string {
	buf := &bytes.Buffer{}
	w := tabwriter.NewWriter(buf, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", fn.Name)
	fmt.Fprintf(w, "Namespace:\t%s\n", fn.Namespace)
	fmt.Fprintf(w, "Status:\t%s\n", status(fn))
	fmt.Fprintf(w, "Replicas:\t%d desired, %d ready, %d available, %d updated\n",
		fn.DesiredReplicas, fn.ReadyReplicas, fn.AvailableReplicas, fn.UpdatedReplicas)
	fmt.Fprintf(w, "Source:\t%s\n", source(fn))
	switch src := fn.Source.(type) {
	case function.CodeSource:
		fmt.Fprintf(w, "Runtime:\t%s\n", src.Runtime)
	case function.GitSource:
		fmt.Fprintf(w, "Repository:\t%s (branch %s, path %s)\n", src.URL, src.Branch, src.Path)
	}
	if fn.Image != "" {
		fmt.Fprintf(w, "Image:\t%s\n", fn.Image)
	}
	if len(fn.Command) > 0 {
		fmt.Fprintf(w, "Command:\t%q\n", fn.Command)
	}
	keys := make([]string, 0, len(fn.Env))
	for k := range fn.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "Env:\t%s=%s\n", k, fn.Env[k])
	}
	fmt.Fprintf(w, "Age:\t%s\n", age(fn.CreatedAt, now))
	w.Flush()
	return buf.String()
}

func status(fn *function.Function) string {
	if fn.Reason != "" {
		return fmt.Sprintf("%s (%s)", fn.Status, fn.Reason)
	}
	return string(fn.Status)
}

func source(fn *function.Function) string {
	if fn.Source == nil {
		return "-"
	}
	return string(fn.Source.Type())
}

func age(created, now time.Time) string {
	if created.IsZero() {
		return "-"
	}
	d := now.Sub(created)
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

func write(w io.Writer, s string) {
	io.WriteString(w, s)
}
