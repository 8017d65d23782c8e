// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package logcodec

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"time", "latitude", "longitude", "altitude_m"}

// WriteCSV writes points as CSV with a header row
func WriteCSV(w io.Writer, points []Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("csv write header: %w", err)
	}
	for _, p := range points {
		row := []string{
			p.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Latitude, 'f', 7, 64),
			strconv.FormatFloat(p.Longitude, 'f', 7, 64),
			strconv.FormatFloat(float64(p.Altitude), 'f', 1, 32),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type gpxDoc struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	XMLNS   string   `xml:"xmlns,attr"`
	Track   gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name    string     `xml:"name,omitempty"`
	Segment gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat  string `xml:"lat,attr"`
	Lon  string `xml:"lon,attr"`
	Ele  string `xml:"ele"`
	Time string `xml:"time"`
}

// WriteGPX writes points as a single-track GPX 1.1 document
func WriteGPX(w io.Writer, name string, points []Point) error {
	doc := gpxDoc{
		Version: "1.1",
		Creator: "meridian",
		XMLNS:   "http://www.topografix.com/GPX/1/1",
		Track:   gpxTrack{Name: name},
	}
	doc.Track.Segment.Points = make([]gpxPoint, 0, len(points))
	for _, p := range points {
		doc.Track.Segment.Points = append(doc.Track.Segment.Points, gpxPoint{
			Lat:  strconv.FormatFloat(p.Latitude, 'f', 7, 64),
			Lon:  strconv.FormatFloat(p.Longitude, 'f', 7, 64),
			Ele:  strconv.FormatFloat(float64(p.Altitude), 'f', 1, 32),
			Time: p.UTC().Format(time.RFC3339),
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("gpx encode: %w", err)
	}
	return enc.Flush()
}
