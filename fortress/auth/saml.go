// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package auth

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// samlConsumer decodes SAML responses posted to the assertion consumer
// endpoint and maps asserted attributes to repo scopes.
type samlConsumer struct {
	expectedIssuer string
	spEntityID     string
	metadataURL    string
	mappings       []claimMapping
}

func newSAMLConsumer(config SAMLConfig) (*samlConsumer, error) {
	if config.ExpectedIssuer == "" {
		return nil, Error.New("saml enabled without expected issuer")
	}
	if config.SPEntityID == "" {
		return nil, Error.New("saml enabled without sp entity id")
	}
	mappings, err := parseMappings(config.RoleMappings)
	if err != nil {
		return nil, err
	}
	return &samlConsumer{
		expectedIssuer: config.ExpectedIssuer,
		spEntityID:     config.SPEntityID,
		metadataURL:    config.MetadataURL,
		mappings:       mappings,
	}, nil
}

// Metadata renders a minimal SP entity descriptor.
func (consumer *samlConsumer) Metadata() []byte {
	acs := strings.TrimSuffix(consumer.spEntityID, "/") + "/v1/auth/saml/acs"
	doc := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<EntityDescriptor xmlns="urn:oasis:names:tc:SAML:2.0:metadata" entityID=%q>
  <SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST" Location=%q index="0"/>
  </SPSSODescriptor>
</EntityDescriptor>
`, consumer.spEntityID, acs)
	return []byte(doc)
}

type samlResponse struct {
	XMLName   xml.Name      `xml:"Response"`
	Assertion samlAssertion `xml:"Assertion"`
}

type samlAssertion struct {
	Issuer  string `xml:"Issuer"`
	Subject struct {
		NameID string `xml:"NameID"`
	} `xml:"Subject"`
	Conditions struct {
		NotBefore    string `xml:"NotBefore,attr"`
		NotOnOrAfter string `xml:"NotOnOrAfter,attr"`
		Audiences    []struct {
			Audience []string `xml:"Audience"`
		} `xml:"AudienceRestriction"`
	} `xml:"Conditions"`
	Attributes struct {
		Attribute []struct {
			Name   string   `xml:"Name,attr"`
			Values []string `xml:"AttributeValue"`
		} `xml:"Attribute"`
	} `xml:"AttributeStatement"`
}

// Consume validates a base64-encoded SAML response and returns the
// asserted subject plus mapped scopes.
func (consumer *samlConsumer) Consume(encoded string, now time.Time) (subject string, scopes Scopes, err error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return "", nil, ErrInvalidToken.New("saml response is not valid base64")
	}

	var response samlResponse
	if err := xml.Unmarshal(raw, &response); err != nil {
		return "", nil, ErrInvalidToken.New("saml response is not valid xml: %v", err)
	}
	assertion := response.Assertion

	if strings.TrimSpace(assertion.Issuer) != consumer.expectedIssuer {
		return "", nil, ErrInvalidToken.New("assertion issuer mismatch")
	}
	subject = strings.TrimSpace(assertion.Subject.NameID)
	if subject == "" {
		return "", nil, ErrInvalidToken.New("assertion carries no NameID")
	}
	if err := consumer.checkAudience(assertion); err != nil {
		return "", nil, err
	}
	if err := checkWindow(assertion.Conditions.NotBefore, assertion.Conditions.NotOnOrAfter, now); err != nil {
		return "", nil, err
	}

	claims := map[string]interface{}{}
	for _, attribute := range assertion.Attributes.Attribute {
		values := make([]interface{}, 0, len(attribute.Values))
		for _, value := range attribute.Values {
			values = append(values, strings.TrimSpace(value))
		}
		claims[attribute.Name] = values
	}

	scopes = extractScopes(consumer.mappings, claims)
	return subject, scopes, nil
}

func (consumer *samlConsumer) checkAudience(assertion samlAssertion) error {
	if len(assertion.Conditions.Audiences) == 0 {
		return nil
	}
	for _, restriction := range assertion.Conditions.Audiences {
		for _, audience := range restriction.Audience {
			if strings.TrimSpace(audience) == consumer.spEntityID {
				return nil
			}
		}
	}
	return ErrInvalidToken.New("assertion audience mismatch")
}

func checkWindow(notBefore, notOnOrAfter string, now time.Time) error {
	if notBefore != "" {
		t, err := time.Parse(time.RFC3339, notBefore)
		if err == nil && now.Before(t) {
			return ErrInvalidToken.New("assertion not yet valid")
		}
	}
	if notOnOrAfter != "" {
		t, err := time.Parse(time.RFC3339, notOnOrAfter)
		if err == nil && !now.Before(t) {
			return ErrInvalidToken.New("assertion expired")
		}
	}
	return nil
}

// decodeBase64 accepts both standard and url-safe alphabets, padded or not.
func decodeBase64(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if raw, err := enc.DecodeString(encoded); err == nil {
			return raw, nil
		}
	}
	return nil, Error.New("undecodable base64")
}
