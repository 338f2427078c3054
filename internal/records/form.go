package records

import (
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Date layouts accepted from forms. The first one is used for display.
var dateLayouts = []string{"02/01/2006", "2006-01-02"}

// ValidationError is a user-facing problem with one form field.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors collects every problem found in a form.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Field + ": " + e.Message
	}
	return "invalid form: " + strings.Join(msgs, "; ")
}

// For returns the message for field, if any.
func (v ValidationErrors) For(field string) string {
	for _, e := range v {
		if e.Field == field {
			return e.Message
		}
	}
	return ""
}

// ParseRecordForm validates a submitted record form. Audit fields are left
// empty for the caller to fill.
func ParseRecordForm(form url.Values) (Record, error) {
	get := func(k string) string { return strings.TrimSpace(form.Get(k)) }

	var (
		r    Record
		errs ValidationErrors
	)
	add := func(field, msg string) { errs = append(errs, ValidationError{Field: field, Message: msg}) }

	r.Motivo = get("motivo")
	if r.Motivo == "" {
		add("motivo", "Escolha o motivo")
	}
	r.Empresa = get("empresa")
	if !slices.Contains(Companies, r.Empresa) {
		add("empresa", "Empresa deve ser Raizen, Oxiteno ou Outros")
	}
	r.Filial = get("filial")
	if r.Filial == "" {
		add("filial", "Escolha a filial")
	}

	r.OEF, r.NF, r.RNC = get("oef"), get("nf"), get("rnc")
	valor := get("valor_nota")
	if r.OEF == "" || r.NF == "" || valor == "" || r.RNC == "" {
		add("obrigatorios", "Os campos OEF, NF, Valor da Nota e RNC são obrigatórios")
	}
	if r.OEF != "" && !isInteger(r.OEF) {
		add("oef", "O número OEF deve conter apenas números inteiros")
	}
	if r.NF != "" && !isInteger(r.NF) {
		add("nf", "O número NF deve conter apenas números inteiros")
	}
	if valor != "" {
		v, err := ParseValor(valor)
		if err != nil {
			add("valor_nota", "O valor da nota deve ser numérico. Use o formato brasileiro (ex: 1.234,56) ou decimal (ex: 1234.56)")
		}
		r.ValorNota = v
	}

	if raw := get("id_acao"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			add("id_acao", "O ID da Ação deve ser um número inteiro")
		} else {
			r.IDAcao = &v
		}
	}

	r.Status = get("status")

	for _, d := range []struct {
		field string
		dst   **time.Time
	}{
		{"data_envio_filial", &r.DataEnvioFilial},
		{"data_encerramento", &r.DataEncerramento},
		{"data_retorno", &r.DataRetorno},
	} {
		t, err := ParseDate(get(d.field))
		if err != nil {
			add(d.field, "Data inválida, use DD/MM/AAAA")
			continue
		}
		*d.dst = t
	}

	if len(errs) > 0 {
		return r, errs
	}
	return r, nil
}

func isInteger(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil && isDigits(strings.TrimPrefix(s, "-"))
}

// ParseValor reads a monetary value in Brazilian ("1.234,56") or plain
// decimal ("1234.56") notation.
func ParseValor(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else if strings.Count(s, ".") > 1 {
		s = strings.ReplaceAll(s, ".", "")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}

// FormatValor renders v in Brazilian notation with two decimals.
func FormatValor(v float64) string {
	neg := v < 0
	s := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	intPart, frac := s[:len(s)-3], s[len(s)-2:]

	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	out := b.String() + "," + frac
	if neg {
		return "-" + out
	}
	return out
}

// ParseDate reads DD/MM/YYYY or ISO dates. Empty input is no date.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", s)
}

// FormatDate renders t as DD/MM/YYYY, or "" for no date.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayouts[0])
}

// FormValues is the inverse of ParseRecordForm, used to prefill edit forms.
func FormValues(r *Record) url.Values {
	v := url.Values{}
	v.Set("motivo", r.Motivo)
	v.Set("empresa", r.Empresa)
	v.Set("filial", r.Filial)
	v.Set("oef", r.OEF)
	v.Set("nf", r.NF)
	v.Set("valor_nota", FormatValor(r.ValorNota))
	v.Set("rnc", r.RNC)
	v.Set("status", r.Status)
	v.Set("data_envio_filial", FormatDate(r.DataEnvioFilial))
	v.Set("data_encerramento", FormatDate(r.DataEncerramento))
	v.Set("data_retorno", FormatDate(r.DataRetorno))
	if r.IDAcao != nil {
		v.Set("id_acao", strconv.FormatInt(*r.IDAcao, 10))
	}
	return v
}
