package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openkokkai/billtracker/fetcher"
	"github.com/openkokkai/billtracker/parser"
	"github.com/openkokkai/billtracker/store"
)

// Default index pages for the two chamber sites.
const (
	sangiinIndexURL = "https://www.sangiin.go.jp/japanese/joho1/kousei/gian/current/gian.htm"
	shugiinIndexURL = "https://www.shugiin.go.jp/internet/itdb_gian.nsf/html/gian/menu.htm"
)

type chamberSource struct {
	parser   parser.ChamberParser
	indexURL string
}

// Ingestor is the fetch-and-parse side of the pipeline: it turns one
// chamber's live pages into parsed records and re-scrapes single bills for
// the completion executor. Storage belongs to the Pipeline.
type Ingestor struct {
	fetcher *fetcher.Fetcher
	sources map[store.Chamber]chamberSource
}

func NewIngestor(f *fetcher.Fetcher) *Ingestor {
	return &Ingestor{
		fetcher: f,
		sources: map[store.Chamber]chamberSource{
			store.ChamberSangiin: {parser: parser.NewSangiinParser(sangiinIndexURL), indexURL: sangiinIndexURL},
			store.ChamberShugiin: {parser: parser.NewShugiinParser(shugiinIndexURL), indexURL: shugiinIndexURL},
		},
	}
}

// CollectRecords fetches one chamber's index and every linked detail page,
// returning the parsed records. Detail pages unchanged since the last fetch
// are skipped; a single page failing to parse logs and continues.
func (in *Ingestor) CollectRecords(ctx context.Context, chamber store.Chamber) ([]*store.BillRecord, error) {
	src, ok := in.sources[chamber]
	if !ok {
		return nil, fmt.Errorf("unknown chamber %q", chamber)
	}

	res, err := in.fetcher.Fetch(ctx, src.indexURL, fetcher.Options{})
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	if res.Skipped != fetcher.SkipNone {
		return nil, nil
	}
	seeds, err := src.parser.ParseIndex(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	var records []*store.BillRecord
	for _, seed := range seeds {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		if seed.DetailURL == "" {
			continue
		}
		rec, err := in.collectDetail(ctx, src, seed)
		if err != nil {
			log.Printf("ingest: %s %s: %v", chamber, seed.BillID, err)
			continue
		}
		if rec == nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// collectDetail returns nil without error when the page content is
// unchanged since the last fetch.
func (in *Ingestor) collectDetail(ctx context.Context, src chamberSource, seed parser.BillSeed) (*store.BillRecord, error) {
	res, err := in.fetcher.Fetch(ctx, seed.DetailURL, fetcher.Options{})
	if err != nil {
		return nil, err
	}
	if res.Skipped != fetcher.SkipNone {
		return nil, nil
	}
	rec, err := src.parser.ParseDetail(res.Body)
	if err != nil {
		return nil, err
	}
	if rec.BillID == "" {
		rec.BillID = seed.BillID
	}
	if rec.Title == "" {
		rec.Title = seed.Title
	}
	rec.SourceURLs = append(rec.SourceURLs, seed.DetailURL)
	rec.LastUpdated = time.Now()
	return rec, nil
}

// Scrape re-fetches the bill's most recent source page, bypassing the
// content dedup so the completion executor always sees the live page.
func (in *Ingestor) Scrape(ctx context.Context, rec *store.BillRecord) (*store.BillRecord, error) {
	src, ok := in.sources[rec.ChamberOfOrigin]
	if !ok {
		return nil, fmt.Errorf("unknown chamber %q", rec.ChamberOfOrigin)
	}
	if len(rec.SourceURLs) == 0 {
		return nil, fmt.Errorf("bill %s has no source urls", rec.BillID)
	}
	url := rec.SourceURLs[len(rec.SourceURLs)-1]
	res, err := in.fetcher.Fetch(ctx, url, fetcher.Options{ForceRefresh: true})
	if err != nil {
		return nil, err
	}
	fresh, err := src.parser.ParseDetail(res.Body)
	if err != nil {
		return nil, err
	}
	if fresh.BillID == "" {
		fresh.BillID = rec.BillID
	}
	fresh.SourceURLs = append(fresh.SourceURLs, url)
	return fresh, nil
}
