package report

import (
	"fmt"
	"strings"
	"time"
)

// Filename names an exported report after the export instant.
func Filename(now time.Time) string {
	return fmt.Sprintf("reporte_medico_%d.txt", now.UnixMilli())
}

// timestampLayouts covers RFC 3339 plus the naive isoformat values the
// backend actually emits.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func formatFecha(ts string) string {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return "-"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.Format("02/01/2006 15:04")
		}
	}
	return ts
}

// Format renders a report as the flat text document offered for download.
func Format(r Report) string {
	var b strings.Builder
	b.WriteString("REPORTE MÉDICO - CONSULTA VIRTUAL\n")
	b.WriteString("=================================\n\n")
	fmt.Fprintf(&b, "Fecha: %s\n\n", formatFecha(r.Timestamp))
	fmt.Fprintf(&b, "Consulta:\n%s\n\n", strings.TrimSpace(r.Consulta))
	fmt.Fprintf(&b, "Respuesta:\n%s\n", strings.TrimSpace(r.Respuesta))

	if r.Analisis != nil {
		lines := r.Analisis.fieldLines()
		if len(lines) > 0 {
			b.WriteString("\nAnálisis:\n")
			for _, line := range lines {
				fmt.Fprintf(&b, "  %s: %s\n", line[0], strings.TrimSpace(line[1]))
			}
		}
	}
	return b.String()
}
