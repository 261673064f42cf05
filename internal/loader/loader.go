// Package loader writes parsed filings into the relational store.
package loader

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/michaelpawlus/990-beacon/internal/model"
	"github.com/michaelpawlus/990-beacon/internal/parser"
)

// Source carries the filing's index-derived identity: the stable object id
// plus optional metadata the XML itself does not repeat.
type Source struct {
	ObjectID  string
	FiledAt   *time.Time
	RawXMLURL string
}

// LoadFiling upserts one parsed filing inside the caller's transaction.
//
// It returns false without touching anything when a Filing with the same
// object id already exists; otherwise it upserts the organization by EIN,
// inserts the Filing, and inserts its people/grants children. Statements
// execute immediately so generated ids are usable, but committing (or
// rolling back) the transaction is the caller's job.
func LoadFiling(tx *gorm.DB, parsed *parser.ParsedFiling, src Source, log *logrus.Entry) (bool, error) {
	var existing model.Filing
	err := tx.Where("object_id = ?", src.ObjectID).First(&existing).Error
	if err == nil {
		log.WithField("object_id", src.ObjectID).Debug("filing already exists, skipping")
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to check for existing filing: %w", err)
	}

	org, err := upsertOrganization(tx, parsed)
	if err != nil {
		return false, err
	}

	filing := model.Filing{
		OrganizationID:         org.ID,
		ObjectID:               src.ObjectID,
		TaxYear:                intValue(parsed.TaxYear),
		FilingType:             formTypeOrDefault(parsed.FormType),
		FilingDate:             src.FiledAt,
		TotalRevenue:           parsed.TotalRevenue,
		TotalExpenses:          parsed.TotalExpenses,
		NetAssets:              parsed.NetAssets,
		ContributionsAndGrants: parsed.ContributionsAndGrants,
		ProgramServiceRevenue:  parsed.ProgramServiceRevenue,
		InvestmentIncome:       parsed.InvestmentIncome,
		ProgramExpenses:        parsed.ProgramExpenses,
		ManagementExpenses:     parsed.ManagementExpenses,
		FundraisingExpenses:    parsed.FundraisingExpenses,
		NumEmployees:           parsed.NumEmployees,
		NumVolunteers:          parsed.NumVolunteers,
		MissionDescription:     parsed.MissionDescription,
	}
	if src.RawXMLURL != "" {
		filing.RawXMLURL = &src.RawXMLURL
	}
	if err := tx.Create(&filing).Error; err != nil {
		return false, fmt.Errorf("failed to insert filing %s: %w", src.ObjectID, err)
	}

	for _, p := range parsed.People {
		row := model.FilingPerson{
			FilingID:             filing.ID,
			Name:                 p.Name,
			Title:                p.Title,
			Compensation:         p.Compensation,
			IsOfficer:            p.IsOfficer,
			IsDirector:           p.IsDirector,
			IsKeyEmployee:        p.IsKeyEmployee,
			IsHighestCompensated: p.IsHighestCompensated,
		}
		if err := tx.Create(&row).Error; err != nil {
			return false, fmt.Errorf("failed to insert filing person: %w", err)
		}
	}

	for _, g := range parsed.Grants {
		row := model.FilingGrant{
			FilingID:       filing.ID,
			RecipientName:  g.RecipientName,
			RecipientEIN:   g.RecipientEIN,
			RecipientCity:  g.RecipientCity,
			RecipientState: g.RecipientState,
			Amount:         g.Amount,
			Purpose:        g.Purpose,
		}
		if err := tx.Create(&row).Error; err != nil {
			return false, fmt.Errorf("failed to insert filing grant: %w", err)
		}
	}

	return true, nil
}

// upsertOrganization converges on one row per EIN. The name always follows
// the latest filing; city and state only move to non-empty values, so a
// later filing with no address never erases a known one.
func upsertOrganization(tx *gorm.DB, parsed *parser.ParsedFiling) (*model.Organization, error) {
	var org model.Organization
	err := tx.Where("ein = ?", parsed.EIN).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		org = model.Organization{
			EIN:   parsed.EIN,
			Name:  parsed.Name,
			City:  parsed.City,
			State: parsed.State,
		}
		if err := tx.Create(&org).Error; err != nil {
			return nil, fmt.Errorf("failed to create organization %s: %w", parsed.EIN, err)
		}
		return &org, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up organization %s: %w", parsed.EIN, err)
	}

	org.Name = parsed.Name
	if parsed.City != nil && *parsed.City != "" {
		org.City = parsed.City
	}
	if parsed.State != nil && *parsed.State != "" {
		org.State = parsed.State
	}
	if err := tx.Save(&org).Error; err != nil {
		return nil, fmt.Errorf("failed to update organization %s: %w", parsed.EIN, err)
	}
	return &org, nil
}

func intValue(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

func formTypeOrDefault(t *string) string {
	if t == nil || *t == "" {
		return "990"
	}
	return *t
}
