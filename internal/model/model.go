package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Organization is one nonprofit, keyed by its EIN. Name, city and state
// track the most recently ingested filing; city/state are never cleared by
// a filing that omits them.
type Organization struct {
	ID         string     `gorm:"type:uuid;primaryKey"`
	EIN        string     `gorm:"type:varchar(10);uniqueIndex;not null"`
	Name       string     `gorm:"type:text;not null"`
	City       *string    `gorm:"type:text"`
	State      *string    `gorm:"type:varchar(2);index"`
	NTEECode   *string    `gorm:"column:ntee_code;type:varchar(10)"`
	RulingDate *time.Time `gorm:"type:date"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime"`

	Filings []Filing
}

func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// Filing is one ingested return, keyed by the IRS object id. Rows are
// written once and never updated; re-ingesting the same object id is a
// no-op in the loader.
type Filing struct {
	ID             string     `gorm:"type:uuid;primaryKey"`
	OrganizationID string     `gorm:"type:uuid;not null;index"`
	ObjectID       string     `gorm:"type:varchar(50);uniqueIndex;not null"`
	TaxYear        int        `gorm:"not null;index"`
	FilingType     string     `gorm:"type:varchar(10);not null;index"`
	FilingDate     *time.Time `gorm:"type:date"`

	TotalRevenue           *int64 `gorm:"type:bigint"`
	TotalExpenses          *int64 `gorm:"type:bigint"`
	NetAssets              *int64 `gorm:"type:bigint"`
	ContributionsAndGrants *int64 `gorm:"type:bigint"`
	ProgramServiceRevenue  *int64 `gorm:"type:bigint"`
	InvestmentIncome       *int64 `gorm:"type:bigint"`
	ProgramExpenses        *int64 `gorm:"type:bigint"`
	ManagementExpenses     *int64 `gorm:"type:bigint"`
	FundraisingExpenses    *int64 `gorm:"type:bigint"`

	NumEmployees       *int    `gorm:"type:integer"`
	NumVolunteers      *int    `gorm:"type:integer"`
	MissionDescription *string `gorm:"type:text"`
	RawXMLURL          *string `gorm:"column:raw_xml_url;type:text"`

	CreatedAt time.Time `gorm:"autoCreateTime"`

	People []FilingPerson
	Grants []FilingGrant
}

func (f *Filing) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// FilingPerson is one officer/director/employee row disclosed on a 990.
// The four role flags are independent; several can be set at once.
type FilingPerson struct {
	ID           string  `gorm:"type:uuid;primaryKey"`
	FilingID     string  `gorm:"type:uuid;not null;index"`
	Name         string  `gorm:"type:text;not null"`
	Title        *string `gorm:"type:text"`
	Compensation *int64  `gorm:"type:bigint"`

	IsOfficer            bool `gorm:"not null;default:false"`
	IsDirector           bool `gorm:"not null;default:false"`
	IsKeyEmployee        bool `gorm:"not null;default:false"`
	IsHighestCompensated bool `gorm:"not null;default:false"`
}

func (p *FilingPerson) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// FilingGrant is one grant row disclosed on a 990-PF.
type FilingGrant struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	FilingID       string  `gorm:"type:uuid;not null;index"`
	RecipientName  string  `gorm:"type:text;not null"`
	RecipientEIN   *string `gorm:"column:recipient_ein;type:varchar(10)"`
	RecipientCity  *string `gorm:"type:text"`
	RecipientState *string `gorm:"type:varchar(2)"`
	Amount         *int64  `gorm:"type:bigint"`
	Purpose        *string `gorm:"type:text"`
}

func (g *FilingGrant) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// IngestRun records one pipeline execution and its final counters.
type IngestRun struct {
	ID         string         `gorm:"type:uuid;primaryKey"`
	Mode       string         `gorm:"type:varchar(20);not null"`
	Years      datatypes.JSON `gorm:"type:jsonb"`
	Counters   datatypes.JSON `gorm:"type:jsonb"`
	StartedAt  time.Time      `gorm:"not null"`
	FinishedAt *time.Time
}

func (r *IngestRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// All lists every persisted model, in FK dependency order, for migration.
func All() []any {
	return []any{
		&Organization{},
		&Filing{},
		&FilingPerson{},
		&FilingGrant{},
		&IngestRun{},
	}
}
