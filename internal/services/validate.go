package services

import (
	"encoding/json"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/kspro0090/baradar/internal/models"
)

var dateRe = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})$`)

// asciiDigits rewrites Persian and Arabic-Indic digits as ASCII.
func asciiDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		}
		return r
	}, s)
}

func selectOptions(f models.FormField) []string {
	if f.Options == "" {
		return nil
	}
	var opts []string
	if err := json.Unmarshal([]byte(f.Options), &opts); err != nil {
		// A plain comma separated list is accepted too.
		for _, o := range strings.Split(f.Options, ",") {
			if o = strings.TrimSpace(o); o != "" {
				opts = append(opts, o)
			}
		}
	}
	return opts
}

// validateSubmission checks data against the fields of a service and
// returns the values of known fields only. Dates are accepted in any
// calendar as YYYY/MM/DD.
func validateSubmission(fields []models.FormField, data map[string]string) (map[string]string, error) {
	clean := make(map[string]string, len(fields))
	problems := make(map[string]string)

	for _, f := range fields {
		v := strings.TrimSpace(data[f.FieldName])
		if v == "" {
			if f.IsRequired {
				problems[f.FieldName] = "این فیلد الزامی است"
			}
			continue
		}

		switch f.FieldType {
		case models.FieldNumber:
			if _, err := strconv.ParseFloat(asciiDigits(v), 64); err != nil {
				problems[f.FieldName] = "عدد معتبر وارد کنید"
				continue
			}
		case models.FieldEmail:
			if addr, err := mail.ParseAddress(v); err != nil || addr.Address != v {
				problems[f.FieldName] = "ایمیل معتبر وارد کنید"
				continue
			}
		case models.FieldDate:
			if !validDate(asciiDigits(v)) {
				problems[f.FieldName] = "تاریخ را به شکل YYYY/MM/DD وارد کنید"
				continue
			}
		case models.FieldSelect:
			opts := selectOptions(f)
			ok := false
			for _, o := range opts {
				if o == v {
					ok = true
					break
				}
			}
			if !ok {
				problems[f.FieldName] = "گزینه انتخاب شده معتبر نیست"
				continue
			}
		}
		clean[f.FieldName] = v
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}
	return clean, nil
}

func validDate(s string) bool {
	m := dateRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return month >= 1 && month <= 12 && day >= 1 && day <= 31
}
