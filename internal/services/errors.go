package services

import (
	"errors"
	"sort"
	"strings"

	"github.com/kspro0090/baradar/internal/auth"
	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/gdocs"
	"github.com/kspro0090/baradar/internal/lifecycle"
	"github.com/kspro0090/baradar/internal/queue"
	"github.com/kspro0090/baradar/internal/render"
	"github.com/kspro0090/baradar/internal/store"
)

var (
	ErrServiceInactive = errors.New("service is not active")
	ErrNotPending      = errors.New("request is not pending")
	ErrNotApproved     = errors.New("request is not approved")
	ErrInvalidTemplate = errors.New("invalid template")
)

// ValidationError lists the problems of a submission per field name.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "invalid submission: " + strings.Join(parts, "; ")
}

// PublicMessage returns the Persian message shown to end users for err.
// It never contains internal detail.
func PublicMessage(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return "اطلاعات وارد شده معتبر نیست"
	case errors.Is(err, lifecycle.ErrEmptyTemplatePool):
		return "قالب آزادی برای این خدمت باقی نمانده است. لطفاً با مدیر سامانه تماس بگیرید"
	case errors.Is(err, render.ErrTemplateUnavailable):
		return "قالب این خدمت در دسترس نیست"
	case errors.Is(err, render.ErrRenderFailure):
		return "ساخت فایل PDF با خطا مواجه شد"
	case errors.Is(err, ErrServiceInactive):
		return "این خدمت در حال حاضر فعال نیست"
	case errors.Is(err, ErrNotPending), errors.Is(err, store.ErrConflict):
		return "وضعیت این درخواست تغییر کرده است"
	case errors.Is(err, ErrNotApproved):
		return "این درخواست هنوز تایید نشده است"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, fonts.ErrFontNotFound):
		return "مورد درخواستی یافت نشد"
	case errors.Is(err, ErrInvalidTemplate), errors.Is(err, fonts.ErrInvalidFont):
		return "فایل ارسال شده معتبر نیست"
	case errors.Is(err, queue.ErrFull):
		return "سامانه مشغول است. لطفاً چند دقیقه دیگر تلاش کنید"
	case errors.Is(err, auth.ErrInvalidToken):
		return "دسترسی مجاز نیست"
	}
	return "خطای داخلی سرور"
}

// Retryable reports whether a failed PDF job is worth another attempt.
func Retryable(err error) bool {
	return gdocs.Retryable(err) && !errors.Is(err, lifecycle.ErrEmptyTemplatePool)
}
