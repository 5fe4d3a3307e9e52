package redirect

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/partsmarket/golang_services/internal/payment_service/app"
	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

//go:embed templates/result.html
var templateFS embed.FS

// OutcomeSegment is the path segment used for a session status in return and handoff URLs.
func OutcomeSegment(status domain.SessionStatus) string {
	switch status {
	case domain.SessionStatusSucceeded:
		return "success"
	case domain.SessionStatusDeclined:
		return "declined"
	case domain.SessionStatusCancelled:
		return "cancelled"
	case domain.SessionStatusExpired:
		return "expired"
	default:
		return "pending"
	}
}

// HandoffURL builds the deep link that carries the verified result into the native app:
// <scheme>://payment/<outcome>?session=..&success=..&spare_parts=..&automotive=..
func HandoffURL(scheme string, res *app.ReconcileResult) string {
	q := url.Values{}
	if res.SessionID != "" {
		q.Set("session", res.SessionID)
	}
	q.Set("success", strconv.FormatBool(res.Success))
	if res.SparePartsCredits != nil {
		q.Set("spare_parts", strconv.Itoa(*res.SparePartsCredits))
	}
	if res.AutomotiveCredits != nil {
		q.Set("automotive", strconv.Itoa(*res.AutomotiveCredits))
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     "payment",
		Path:     "/" + OutcomeSegment(res.Status),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// PageData feeds templates/result.html.
type PageData struct {
	Title              string
	Tone               string
	Message            string
	Reason             string
	SessionID          string
	ShowBalances       bool
	SparePartsCredits  int
	AutomotiveCredits  int
	HandoffURL         template.URL
	HandoffDelayMillis int64
}

// Renderer turns reconcile results into the HTML return page.
type Renderer struct {
	tmpl         *template.Template
	scheme       string
	handoffDelay time.Duration
}

func NewRenderer(scheme string, handoffDelay time.Duration) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/result.html")
	if err != nil {
		return nil, fmt.Errorf("parsing result page template: %w", err)
	}
	if scheme == "" {
		scheme = "partsmarket"
	}
	return &Renderer{tmpl: tmpl, scheme: scheme, handoffDelay: handoffDelay}, nil
}

// Page prepares the view for res. Only mobile browsers get a handoff link.
func (r *Renderer) Page(res *app.ReconcileResult, cc ClientContext) PageData {
	data := PageData{
		Message:   res.Message,
		Reason:    res.Reason,
		SessionID: res.SessionID,
	}
	switch {
	case res.Success:
		data.Title, data.Tone = "Payment successful", "success"
	case res.Status == domain.SessionStatusPending:
		data.Title, data.Tone = "Confirming your payment", "pending"
	case res.Status == "":
		data.Title, data.Tone = "Payment not found", "failure"
	default:
		data.Title, data.Tone = "Payment not completed", "failure"
	}
	if res.SparePartsCredits != nil && res.AutomotiveCredits != nil {
		data.ShowBalances = true
		data.SparePartsCredits = *res.SparePartsCredits
		data.AutomotiveCredits = *res.AutomotiveCredits
	}
	if cc.ShouldHandoff() && res.Status != "" {
		// Built from url.Values by HandoffURL, so it is safe to mark as a URL.
		data.HandoffURL = template.URL(HandoffURL(r.scheme, res))
		data.HandoffDelayMillis = r.handoffDelay.Milliseconds()
	}
	return data
}

func (r *Renderer) Render(w io.Writer, data PageData) error {
	return r.tmpl.Execute(w, data)
}
