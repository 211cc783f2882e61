package sso

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors the gateway translates into typed failure codes.
var (
	errMalformedAssertion = errors.New("malformed SAML assertion")
	errMissingEmail       = errors.New("assertion carries no email attribute")
	errUnsignedAssertion  = errors.New("assertion is not signed")
	errCertMismatch       = errors.New("assertion certificate does not match configured certificate")
)

type samlEnvelope struct {
	XMLName   xml.Name
	Assertion samlAssertion `xml:"Assertion"`
}

type samlAssertion struct {
	Signature *samlSignature `xml:"Signature"`
	Subject   struct {
		NameID string `xml:"NameID"`
	} `xml:"Subject"`
	AttributeStatement struct {
		Attributes []samlAttribute `xml:"Attribute"`
	} `xml:"AttributeStatement"`
}

type samlAttribute struct {
	Name   string   `xml:"Name,attr"`
	Values []string `xml:"AttributeValue"`
}

type samlSignature struct {
	Certificate string `xml:"KeyInfo>X509Data>X509Certificate"`
}

// parseSAMLResponse decodes a base64 SAMLResponse and extracts the subject
// and attributes. Attribute names are matched on their last URI segment,
// case-insensitively, so both plain names ("email") and claim URIs
// (".../claims/emailaddress") resolve. First matching attribute wins.
//
// When requireSigned is set, the assertion must embed a signature whose
// certificate matches certPEM. This checks certificate identity, not the
// cryptographic signature itself; deployments needing full XML-DSig
// verification terminate SAML at a dedicated service in front.
func parseSAMLResponse(encoded string, requireSigned bool, certPEM string) (*ExternalIdentity, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some IdPs emit unpadded base64.
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedAssertion, err)
		}
	}

	var env samlEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedAssertion, err)
	}

	assertion := env.Assertion
	if assertion.Subject.NameID == "" && len(assertion.AttributeStatement.Attributes) == 0 {
		return nil, errMalformedAssertion
	}

	if requireSigned {
		if assertion.Signature == nil || assertion.Signature.Certificate == "" {
			return nil, errUnsignedAssertion
		}
		if certPEM != "" && !certMatches(assertion.Signature.Certificate, certPEM) {
			return nil, errCertMismatch
		}
	}

	ext := &ExternalIdentity{
		Subject: strings.TrimSpace(assertion.Subject.NameID),
	}

	for _, attr := range assertion.AttributeStatement.Attributes {
		if len(attr.Values) == 0 || attr.Values[0] == "" {
			continue
		}
		value := strings.TrimSpace(attr.Values[0])
		switch attrKey(attr.Name) {
		case "email", "emailaddress", "mail":
			if ext.Email == "" {
				ext.Email = value
			}
		case "firstname", "givenname":
			if ext.FirstName == "" {
				ext.FirstName = value
			}
		case "lastname", "surname":
			if ext.LastName == "" {
				ext.LastName = value
			}
		}
	}

	if ext.Email == "" {
		return nil, errMissingEmail
	}
	if ext.Subject == "" {
		ext.Subject = ext.Email
	}
	return ext, nil
}

// attrKey reduces an attribute name to its last URI segment, lowercased.
func attrKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndexAny(key, "/:"); i >= 0 {
		key = key[i+1:]
	}
	return key
}

// certMatches compares the base64 certificate embedded in an assertion
// against a configured PEM certificate, ignoring headers and whitespace.
func certMatches(embedded, certPEM string) bool {
	return normalizeCert(embedded) == normalizeCert(certPEM)
}

func normalizeCert(cert string) string {
	cert = strings.ReplaceAll(cert, "-----BEGIN CERTIFICATE-----", "")
	cert = strings.ReplaceAll(cert, "-----END CERTIFICATE-----", "")
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, cert)
}
