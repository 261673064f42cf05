// Package parser normalizes raw IRS e-file XML into ParsedFiling records.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

var (
	ErrEmptyDocument   = errors.New("empty document")
	ErrMissingIdentity = errors.New("missing EIN or organization name")
)

// ParsedPerson is one officer/director/employee disclosed on a 990.
type ParsedPerson struct {
	Name         string
	Title        *string
	Compensation *int64

	IsOfficer            bool
	IsDirector           bool
	IsKeyEmployee        bool
	IsHighestCompensated bool
}

// ParsedGrant is one grant disclosed on a 990-PF.
type ParsedGrant struct {
	RecipientName  string
	RecipientEIN   *string
	RecipientCity  *string
	RecipientState *string
	Amount         *int64
	Purpose        *string
}

// ParsedFiling is the normalized output of parsing one raw document.
// Nil financial fields mean the value was absent, which is distinct from
// zero.
type ParsedFiling struct {
	EIN      string
	Name     string
	City     *string
	State    *string
	TaxYear  *int
	FormType *string

	TotalRevenue           *int64
	TotalExpenses          *int64
	NetAssets              *int64
	ContributionsAndGrants *int64
	ProgramServiceRevenue  *int64
	InvestmentIncome       *int64
	ProgramExpenses        *int64
	ManagementExpenses     *int64
	FundraisingExpenses    *int64

	NumEmployees       *int
	NumVolunteers      *int
	MissionDescription *string

	People []ParsedPerson
	Grants []ParsedGrant
}

// Parse converts one raw XML document into a ParsedFiling.
//
// It fails only for unparseable bytes or a document missing the mandatory
// EIN/name; every other malformation degrades to absent fields. The
// underlying reader is token-based encoding/xml: it performs no external
// entity resolution and no network access, so untrusted documents are safe
// to feed in directly.
func Parse(raw []byte) (*ParsedFiling, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyDocument
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("failed to parse XML: no root element")
	}

	stripNamespaces(root)

	ein := extractText(root, headerPaths.EIN)
	name := extractText(root, headerPaths.Name)
	if ein == nil || name == nil {
		return nil, ErrMissingIdentity
	}

	formType := extractText(root, headerPaths.FormType)

	pf := &ParsedFiling{
		EIN:      *ein,
		Name:     *name,
		City:     extractText(root, headerPaths.City),
		State:    extractText(root, headerPaths.State),
		TaxYear:  extractInt(root, headerPaths.TaxYear),
		FormType: formType,
	}

	m := fieldMapFor(strValue(formType))
	pf.TotalRevenue = extractInt64(root, m.TotalRevenue)
	pf.TotalExpenses = extractInt64(root, m.TotalExpenses)
	pf.NetAssets = extractInt64(root, m.NetAssets)
	pf.ContributionsAndGrants = extractInt64(root, m.ContributionsAndGrants)
	pf.ProgramServiceRevenue = extractInt64(root, m.ProgramServiceRevenue)
	pf.InvestmentIncome = extractInt64(root, m.InvestmentIncome)
	pf.ProgramExpenses = extractInt64(root, m.ProgramExpenses)
	pf.ManagementExpenses = extractInt64(root, m.ManagementExpenses)
	pf.FundraisingExpenses = extractInt64(root, m.FundraisingExpenses)
	pf.NumEmployees = extractInt(root, m.NumEmployees)
	pf.NumVolunteers = extractInt(root, m.NumVolunteers)
	pf.MissionDescription = extractText(root, m.MissionDescription)

	switch strValue(formType) {
	case "990":
		pf.People = extractPeople(root)
	case "990PF":
		pf.Grants = extractGrants(root)
	}

	return pf, nil
}

// extractPeople reads the Part VII table. Rows without a name are dropped.
func extractPeople(root *etree.Element) []ParsedPerson {
	var people []ParsedPerson
	for _, elem := range firstContainer(root, personPaths.Container) {
		name := extractText(elem, personPaths.Name)
		if name == nil {
			continue
		}
		people = append(people, ParsedPerson{
			Name:                 *name,
			Title:                extractText(elem, personPaths.Title),
			Compensation:         extractInt64(elem, personPaths.Compensation),
			IsOfficer:            extractBool(elem, personPaths.IsOfficer),
			IsDirector:           extractBool(elem, personPaths.IsDirector),
			IsKeyEmployee:        extractBool(elem, personPaths.IsKeyEmployee),
			IsHighestCompensated: extractBool(elem, personPaths.IsHighestCompensated),
		})
	}
	return people
}

// extractGrants reads the grants-paid schedule. Rows without a recipient
// name are dropped.
func extractGrants(root *etree.Element) []ParsedGrant {
	var grants []ParsedGrant
	for _, elem := range firstContainer(root, grantPaths.Container) {
		name := extractText(elem, grantPaths.RecipientName)
		if name == nil {
			continue
		}
		grants = append(grants, ParsedGrant{
			RecipientName:  *name,
			RecipientCity:  extractText(elem, grantPaths.RecipientCity),
			RecipientState: extractText(elem, grantPaths.RecipientState),
			Amount:         extractInt64(elem, grantPaths.Amount),
			Purpose:        extractText(elem, grantPaths.Purpose),
		})
	}
	return grants
}

// firstContainer returns the matches of the first candidate path that
// matches anything. Candidates are alternatives for the same table across
// schema eras, so matches are never merged across paths.
func firstContainer(root *etree.Element, paths []string) []*etree.Element {
	for _, path := range paths {
		if elems := root.FindElements(path); len(elems) > 0 {
			return elems
		}
	}
	return nil
}

// stripNamespaces drops namespace prefixes from every element and attribute
// so field paths stay namespace-agnostic across schema versions.
func stripNamespaces(elem *etree.Element) {
	elem.Space = ""
	for i := range elem.Attr {
		elem.Attr[i].Space = ""
	}
	for _, child := range elem.ChildElements() {
		stripNamespaces(child)
	}
}

// extractText tries each path in order and returns the first non-empty,
// trimmed text value.
func extractText(elem *etree.Element, paths []string) *string {
	for _, path := range paths {
		found := elem.FindElement(path)
		if found == nil {
			continue
		}
		if text := strings.TrimSpace(found.Text()); text != "" {
			return &text
		}
	}
	return nil
}

// extractInt64 resolves the field text like extractText and parses it as an
// integer. A non-numeric value means the field is absent, not a document
// failure.
func extractInt64(elem *etree.Element, paths []string) *int64 {
	text := extractText(elem, paths)
	if text == nil {
		return nil
	}
	n, err := strconv.ParseInt(*text, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func extractInt(elem *etree.Element, paths []string) *int {
	n := extractInt64(elem, paths)
	if n == nil {
		return nil
	}
	v := int(*n)
	return &v
}

// extractBool reports whether any candidate location holds one of the
// checkbox tokens, compared case-insensitively after trimming.
func extractBool(elem *etree.Element, paths []string) bool {
	for _, path := range paths {
		found := elem.FindElement(path)
		if found == nil {
			continue
		}
		if truthyTokens[strings.ToUpper(strings.TrimSpace(found.Text()))] {
			return true
		}
	}
	return false
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
