// Package domain contains core domain types for the waiver service.
package domain

import (
	"net/mail"
	"strings"
	"time"
)

// AgreementTemplate is one saved version of the waiver text. Every edit
// creates a new row; the newest row is the one shown to signers.
type AgreementTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SigningSession is a single invitation to sign. The ID doubles as the
// capability token embedded in the signing URL.
type SigningSession struct {
	ID              string    `json:"id"`
	DesignatedName  string    `json:"designatedName,omitempty"`
	DesignatedEmail string    `json:"designatedEmail,omitempty"`
	Description     string    `json:"description,omitempty"`
	IsSigned        bool      `json:"isSigned"`
	TemplateID      string    `json:"templateId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`

	// Agreement is populated by listing queries only.
	Agreement *SignedAgreement `json:"signedAgreement,omitempty"`
}

// DisplayName returns the best human label for the session.
func (s *SigningSession) DisplayName() string {
	switch {
	case s.DesignatedName != "":
		return s.DesignatedName
	case s.Description != "":
		return s.Description
	default:
		return "Client"
	}
}

// SignedAgreement is the immutable legal record of a completed signature.
// Only PDFURL may change after creation.
type SignedAgreement struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"sessionId"`
	CustomerName      string    `json:"customerName"`
	CustomerAddress   string    `json:"customerAddress"`
	CustomerEmail     string    `json:"customerEmail"`
	CustomerPhone     string    `json:"customerPhone"`
	SignatureData     string    `json:"signatureData,omitempty"`
	AgreementSnapshot string    `json:"agreementSnapshot,omitempty"`
	SignedAt          time.Time `json:"signedAt"`
	PDFURL            string    `json:"pdfUrl,omitempty"`
}

// HasDocumentLink reports whether a backup or staging run already stored an
// external link for this record.
func (a *SignedAgreement) HasDocumentLink() bool {
	return strings.TrimSpace(a.PDFURL) != ""
}

// SignerDetails is what a signer submits.
type SignerDetails struct {
	Name              string `json:"name"`
	Address           string `json:"address"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	SignatureData     string `json:"signatureData"`
	AgreementSnapshot string `json:"agreementSnapshot"`
}

// Validate checks that every required field is present.
func (d SignerDetails) Validate() error {
	var missing []string
	required := []struct {
		field string
		value string
	}{
		{"name", d.Name},
		{"address", d.Address},
		{"email", d.Email},
		{"phone", d.Phone},
		{"signatureData", d.SignatureData},
		{"agreementSnapshot", d.AgreementSnapshot},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing, Reason: "required"}
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(d.Email)); err != nil {
		return &ValidationError{Fields: []string{"email"}, Reason: "invalid address"}
	}
	return nil
}

// NewSession holds the admin-supplied fields for a fresh signing session.
type NewSession struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Description string `json:"description"`
}

// SigningView is what the signing page needs to render.
type SigningView struct {
	Session       *SigningSession  `json:"session"`
	AgreementText string           `json:"agreementText,omitempty"`
	Signed        *SignedAgreement `json:"signed,omitempty"`
}
