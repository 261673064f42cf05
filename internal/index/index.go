// Package index resolves the IRS yearly filing manifest into entries the
// pipeline can group and fetch.
package index

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/michaelpawlus/990-beacon/internal/config"
)

// ValidFilingTypes is the set of return types the pipeline ingests.
var ValidFilingTypes = map[string]bool{
	"990":   true,
	"990EZ": true,
	"990PF": true,
}

// Entry is one row of a yearly index manifest.
type Entry struct {
	ObjectID     string
	EIN          string
	TaxpayerName string
	ReturnType   string
	TaxPeriod    string
	SubDate      string
	BatchID      string
}

// Filename is the name the entry's document carries inside its batch archive.
func (e Entry) Filename() string {
	return e.ObjectID + "_public.xml"
}

type Resolver struct {
	s3  *s3.Client
	cfg *config.Config
	log *logrus.Entry
}

func NewResolver(client *s3.Client, cfg *config.Config, log *logrus.Entry) *Resolver {
	return &Resolver{s3: client, cfg: cfg, log: log}
}

// FetchIndex downloads and parses the index manifest for one year. Any
// transport or format failure is logged and yields an empty slice; the
// caller treats a missing index as an empty year, not a fatal condition.
func (r *Resolver) FetchIndex(ctx context.Context, year int) []Entry {
	key := r.cfg.IndexKey(year)
	log := r.log.WithFields(logrus.Fields{"year": year, "key": key})
	log.Info("downloading index")

	resp, err := r.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.WithError(err).Warn("failed to download index")
		return nil
	}
	defer resp.Body.Close()

	entries, err := parseIndex(resp.Body)
	if err != nil {
		log.WithError(err).Warn("failed to parse index")
		return nil
	}

	log.WithField("entries", len(entries)).Info("parsed index")
	return entries
}

// parseIndex reads the manifest CSV, keeping only supported return types.
// Missing columns read as empty strings rather than failing the row.
func parseIndex(body io.Reader) ([]Entry, error) {
	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read index header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var entries []Entry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read index row: %w", err)
		}

		returnType := field(record, "RETURN_TYPE")
		if !ValidFilingTypes[returnType] {
			continue
		}

		entries = append(entries, Entry{
			ObjectID:     field(record, "OBJECT_ID"),
			EIN:          field(record, "EIN"),
			TaxpayerName: field(record, "TAXPAYER_NAME"),
			ReturnType:   returnType,
			TaxPeriod:    field(record, "TAX_PERIOD"),
			SubDate:      field(record, "SUB_DATE"),
			BatchID:      field(record, "XML_BATCH_ID"),
		})
	}

	return entries, nil
}
