package report

import (
	"encoding/json"
	"sort"
	"strings"
)

// Urgency levels the backend analysis is expected to use. Anything else is
// carried through as free text.
const (
	UrgenciaAlto  = "Alto"
	UrgenciaMedio = "Medio"
	UrgenciaBajo  = "Bajo"
)

// KnownUrgencia reports whether the value is one of the recognized levels.
func KnownUrgencia(v string) bool {
	switch strings.TrimSpace(v) {
	case UrgenciaAlto, UrgenciaMedio, UrgenciaBajo:
		return true
	default:
		return false
	}
}

// Analysis is the structured portion of a report. The backend generates it
// with an LLM, so values are not guaranteed to be strings; non-string values
// are coerced to their compact JSON form and unrecognized keys are preserved
// so a backend report round-trips losslessly.
type Analysis struct {
	Resumen         string
	Sintomas        string
	Recomendaciones string
	Acciones        string
	Urgencia        string
	Extra           map[string]string
}

func (a *Analysis) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Analysis{}
	for key, val := range raw {
		text := coerceString(val)
		switch key {
		case "resumen":
			a.Resumen = text
		case "sintomas":
			a.Sintomas = text
		case "recomendaciones":
			a.Recomendaciones = text
		case "acciones":
			a.Acciones = text
		case "urgencia":
			a.Urgencia = text
		default:
			if a.Extra == nil {
				a.Extra = make(map[string]string)
			}
			a.Extra[key] = text
		}
	}
	return nil
}

func (a Analysis) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, 5+len(a.Extra))
	if a.Resumen != "" {
		out["resumen"] = a.Resumen
	}
	if a.Sintomas != "" {
		out["sintomas"] = a.Sintomas
	}
	if a.Recomendaciones != "" {
		out["recomendaciones"] = a.Recomendaciones
	}
	if a.Acciones != "" {
		out["acciones"] = a.Acciones
	}
	if a.Urgencia != "" {
		out["urgencia"] = a.Urgencia
	}
	for key, val := range a.Extra {
		out[key] = val
	}
	return json.Marshal(out)
}

// fieldLines returns the analysis as ordered label/value pairs for display.
func (a Analysis) fieldLines() [][2]string {
	lines := [][2]string{}
	add := func(label, val string) {
		if strings.TrimSpace(val) != "" {
			lines = append(lines, [2]string{label, val})
		}
	}
	add("Resumen", a.Resumen)
	add("Síntomas", a.Sintomas)
	add("Recomendaciones", a.Recomendaciones)
	add("Acciones", a.Acciones)
	add("Urgencia", a.Urgencia)

	extraKeys := make([]string, 0, len(a.Extra))
	for key := range a.Extra {
		extraKeys = append(extraKeys, key)
	}
	sort.Strings(extraKeys)
	for _, key := range extraKeys {
		add(key, a.Extra[key])
	}
	return lines
}

func coerceString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// Report is the structured artifact derived from one backend response.
// Timestamp stays an opaque string: the backend emits Python isoformat
// values without a timezone, which strict RFC 3339 parsing would reject.
type Report struct {
	Timestamp string    `json:"timestamp,omitempty"`
	Consulta  string    `json:"consulta"`
	Respuesta string    `json:"respuesta"`
	Analisis  *Analysis `json:"analisis,omitempty"`
}

// Clone returns a deep copy so callers can hold a report without sharing
// mutable state with the store.
func (r Report) Clone() Report {
	out := r
	if r.Analisis != nil {
		a := *r.Analisis
		if r.Analisis.Extra != nil {
			a.Extra = make(map[string]string, len(r.Analisis.Extra))
			for k, v := range r.Analisis.Extra {
				a.Extra[k] = v
			}
		}
		out.Analisis = &a
	}
	return out
}

// HistoryEntry is the read-only summary of a previously produced report as
// returned by the backend history endpoint.
type HistoryEntry struct {
	Timestamp string `json:"timestamp"`
	Consulta  string `json:"consulta"`
}
