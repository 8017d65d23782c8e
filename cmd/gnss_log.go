// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Thermoquad/meridian/pkg/casic"
	"github.com/Thermoquad/meridian/pkg/gnss"
	nmea "github.com/adrianmo/go-nmea"
	"github.com/spf13/cobra"
)

var gnssRaw bool

var gnssLogCmd = &cobra.Command{
	Use:   "gnss_log",
	Short: "Decode GNSS receiver traffic in human-readable format",
	Long: `Continuously decode the receiver's UART stream as it arrives.

CASIC binary frames are shown with timestamp, message name and payload; ACK
and NACK frames show the message they answer. NMEA sentences are shown with
their decoded type, or verbatim with --raw.

Point --port at the receiver UART (usually 115200 baud, 9600 before the
receiver has been configured).`,
	RunE: runGNSSLog,
}

func init() {
	rootCmd.AddCommand(gnssLogCmd)
	gnssLogCmd.Flags().BoolVar(&gnssRaw, "raw", false, "Print NMEA sentences verbatim")
}

func runGNSSLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Meridian - GNSS Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := casic.NewDecoder()
	var line gnss.LineBuffer
	buf := make([]byte, 256)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				slog.Info("connection closed")
				return nil
			}
			slog.Warn("read error", "error", err)
			continue
		}

		for _, b := range buf[:n] {
			frame, err := decoder.DecodeByte(b)
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
			} else if frame != nil {
				fmt.Print(casic.FormatFrame(frame))
				continue
			}
			if !decoder.Idle() {
				continue
			}
			if s, ok := line.Push(b); ok {
				fmt.Print(formatSentence(s, gnssRaw))
			}
		}
	}
}

// formatSentence renders one NMEA line
func formatSentence(line string, raw bool) string {
	if raw {
		return line + "\n"
	}
	s, err := nmea.Parse(line)
	if err != nil {
		return fmt.Sprintf("[NMEA] %s\n  Error: %v\n", line, err)
	}
	switch m := s.(type) {
	case nmea.RMC:
		return fmt.Sprintf("[NMEA] %s %s %s valid=%s lat=%.6f lon=%.6f speed=%.1fkn course=%.1f\n",
			m.DataType(), m.Date, m.Time, m.Validity, m.Latitude, m.Longitude, m.Speed, m.Course)
	case nmea.GGA:
		return fmt.Sprintf("[NMEA] %s %s fix=%s sats=%d hdop=%.1f alt=%.1fm\n",
			m.DataType(), m.Time, m.FixQuality, m.NumSatellites, m.HDOP, m.Altitude)
	case nmea.GSA:
		return fmt.Sprintf("[NMEA] %s mode=%s fix=%s sv=%d pdop=%.1f hdop=%.1f vdop=%.1f\n",
			m.DataType(), m.Mode, m.FixType, len(m.SV), m.PDOP, m.HDOP, m.VDOP)
	case nmea.VTG:
		return fmt.Sprintf("[NMEA] %s course=%.1f speed=%.1fkm/h\n",
			m.DataType(), m.TrueTrack, m.GroundSpeedKPH)
	default:
		return fmt.Sprintf("[NMEA] %s %s\n", s.DataType(), line)
	}
}
