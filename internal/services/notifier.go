package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/carepath/internal/models"
	pkglogger "github.com/BradenHooton/carepath/pkg/logger"
)

// RegistrationNotifier tells applicants about their request. Implementations
// must not fail the caller; delivery problems are theirs to log.
type RegistrationNotifier interface {
	VerificationCode(ctx context.Context, req *models.RegistrationRequest, code string)
	Approved(ctx context.Context, req *models.RegistrationRequest, token string)
	Rejected(ctx context.Context, req *models.RegistrationRequest)
}

// EmailNotifier renders registration messages and hands them to an EmailService.
type EmailNotifier struct {
	email   EmailService
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

func NewEmailNotifier(email EmailService, baseURL string, timeout time.Duration, logger *slog.Logger) *EmailNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmailNotifier{
		email:   email,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

var (
	codeHTML = template.Must(template.New("code").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<p>Hello {{.FirstName}},</p>
<p>Your CarePath verification code is:</p>
<p style="font-size: 28px; letter-spacing: 6px;"><strong>{{.Code}}</strong></p>
<p>The code expires at {{.ExpiresAt}}. An administrator will review your request after you verify your email.</p>
<p>If you did not request access, you can ignore this email.</p>
</body></html>`))

	approvedHTML = template.Must(template.New("approved").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<p>Hello {{.FirstName}},</p>
<p>Your request for {{.Role}} access has been approved. Set your password to finish creating your account:</p>
<p><a href="{{.Link}}">Complete registration</a></p>
<p>This link can be used once and expires at {{.ExpiresAt}}.</p>
</body></html>`))

	rejectedHTML = template.Must(template.New("rejected").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<p>Hello {{.FirstName}},</p>
<p>Your request for access was not approved.</p>
<p>Reason: {{.Reason}}</p>
<p>Contact your agency administrator if you believe this is a mistake.</p>
</body></html>`))
)

func (n *EmailNotifier) VerificationCode(ctx context.Context, req *models.RegistrationRequest, code string) {
	expires := formatExpiry(req.VerificationCodeExpiresAt)
	data := map[string]string{"FirstName": req.FirstName, "Code": code, "ExpiresAt": expires}

	n.deliver(ctx, "verification_code", req, EmailMessage{
		Subject:  "Your CarePath verification code",
		TextBody: fmt.Sprintf("Hello %s,\n\nYour CarePath verification code is %s. It expires at %s.\n\nIf you did not request access, you can ignore this email.\n", req.FirstName, code, expires),
		HTMLBody: render(codeHTML, data),
	})
}

func (n *EmailNotifier) Approved(ctx context.Context, req *models.RegistrationRequest, token string) {
	link := n.completionLink(req.Email, token)
	expires := formatExpiry(req.CompletionTokenExpiresAt)
	data := map[string]string{"FirstName": req.FirstName, "Role": string(req.RequestedRole), "Link": link, "ExpiresAt": expires}

	n.deliver(ctx, "approved", req, EmailMessage{
		Subject:  "Your CarePath access was approved",
		TextBody: fmt.Sprintf("Hello %s,\n\nYour request for %s access has been approved. Set your password here:\n\n%s\n\nThis link can be used once and expires at %s.\n", req.FirstName, req.RequestedRole, link, expires),
		HTMLBody: render(approvedHTML, data),
	})
}

func (n *EmailNotifier) Rejected(ctx context.Context, req *models.RegistrationRequest) {
	reason := ""
	if req.RejectionReason != nil {
		reason = *req.RejectionReason
	}
	data := map[string]string{"FirstName": req.FirstName, "Reason": reason}

	n.deliver(ctx, "rejected", req, EmailMessage{
		Subject:  "Your CarePath access request",
		TextBody: fmt.Sprintf("Hello %s,\n\nYour request for access was not approved.\nReason: %s\n", req.FirstName, reason),
		HTMLBody: render(rejectedHTML, data),
	})
}

// completionLink carries the email and token in the URL fragment so neither
// reaches server logs or Referer headers.
func (n *EmailNotifier) completionLink(email, token string) string {
	frag := url.Values{"email": {email}, "token": {token}}
	return n.baseURL + "/register/complete#" + frag.Encode()
}

// deliver sends msg on a context detached from the caller so an aborted request
// cannot cancel a notification for a transition that already committed.
func (n *EmailNotifier) deliver(ctx context.Context, kind string, req *models.RegistrationRequest, msg EmailMessage) {
	msg.To = req.Email
	msg.ToName = strings.TrimSpace(req.FirstName + " " + req.LastName)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.email.Send(sendCtx, msg); err != nil {
		n.logger.Warn("registration notification failed",
			slog.String("kind", kind),
			slog.String("request_id", req.ID),
			slog.String("email", pkglogger.SanitizedEmail(req.Email)),
			slog.Any("error", err))
		return
	}

	n.logger.Info("registration notification sent",
		slog.String("kind", kind),
		slog.String("request_id", req.ID))
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "soon"
	}
	return t.UTC().Format("Jan 2, 2006 15:04 MST")
}
