package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseReportFilename(t *testing.T) {
	defer func(orig func() time.Time) { now = orig }(now)
	now = func() time.Time { return time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name         string
		file         string
		format       string
		provider     string
		contractType string
		merchantID   string
		reportDate   time.Time
		year         int
	}{
		{
			name:         "sdp with upload prefix",
			file:         "17345_Servis__SDP_NTH_media_20250131.xlsx",
			format:       FormatSDP,
			provider:     "NTH",
			contractType: "MEDIA",
			reportDate:   day(2025, 1, 31),
			year:         2025,
		},
		{
			name:         "sdp provider with spaces",
			file:         "Servis__SDP_ComTrade ITSS_standard_20241201.xls",
			format:       FormatSDP,
			provider:     "COMTRADEITSS",
			contractType: "STANDARD",
			reportDate:   day(2024, 12, 1),
			year:         2024,
		},
		{
			name:         "legacy sdp",
			file:         "/inbox/Servis_SDP_Mond_Media_izvestaj.xls",
			format:       FormatSDP,
			provider:     "MOND",
			contractType: "MEDIA",
			year:         2026,
		},
		{
			name:         "micropayment dcb",
			file:         "Servis__MicropaymentMerchantReport_NTHDCB_Apps_100234__20250101_0000__20250131_2359.xls",
			format:       FormatMicropayment,
			provider:     "NTH",
			contractType: "DCB_APPS",
			merchantID:   "100234",
			reportDate:   day(2025, 1, 1),
			year:         2025,
		},
		{
			name:         "micropayment sdp type provider",
			file:         "Servis__MicropaymentMerchantReport_SDP_Standard_CePP_555__20250201_0000__20250228_2359.xlsx",
			format:       FormatMicropayment,
			provider:     "JPPOSTA",
			contractType: "STANDARD",
			merchantID:   "555",
			reportDate:   day(2025, 2, 1),
			year:         2025,
		},
		{
			name:         "micropayment provider only",
			file:         "Servis__MicropaymentMerchantReport_EKG_777__20250301_0000__20250331_2359.xls",
			format:       FormatMicropayment,
			provider:     "PROCESSCOM",
			contractType: "GENERAL",
			merchantID:   "777",
			reportDate:   day(2025, 3, 1),
			year:         2025,
		},
		{
			name:         "legacy micropayment",
			file:         "Servis__MicropaymentMerchantReport_NPay_Apps_januar.xls",
			format:       FormatMicropayment,
			provider:     "NUEWOO",
			contractType: "APPS",
			year:         2026,
		},
		{
			name:         "unknown with year",
			file:         "izvestaj_2024.xlsx",
			format:       FormatUnknown,
			provider:     "IZVES",
			contractType: "GENERAL",
			year:         2024,
		},
		{
			name:         "unknown without provider",
			file:         "___.xls",
			format:       FormatUnknown,
			provider:     "UNK",
			contractType: "GENERAL",
			year:         2026,
		},
		{
			name:         "implausible year falls back",
			file:         "Servis__SDP_NTH_apps_19990101.xls",
			format:       FormatSDP,
			provider:     "NTH",
			contractType: "APPS",
			reportDate:   day(1999, 1, 1),
			year:         2026,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseReportFilename(tt.file, nil)
			assert.Equal(t, tt.file, got.Original)
			assert.Equal(t, tt.format, got.Format)
			assert.Equal(t, tt.provider, got.Provider)
			assert.Equal(t, tt.contractType, got.ContractType)
			assert.Equal(t, tt.provider+"_"+tt.contractType, got.ContractName)
			assert.Equal(t, tt.merchantID, got.MerchantID)
			assert.Equal(t, tt.reportDate, got.ReportDate)
			assert.Equal(t, tt.year, got.Year)
		})
	}
}

func TestParkingOperator(t *testing.T) {
	tests := []struct {
		file    string
		parking bool
		want    string
	}{
		{"Parking_CITY_PARK_20250131.xlsx", true, "City Park"},
		{"204_Parking_garaza_centar_20250131.xls", true, "Garaza Centar"},
		{"Servis__SDP_mParking_novi_sad_1234__20250131_0000.xls", true, "Novi Sad"},
		{"Servis__MicropaymentMerchantReport_Parking_Servis_5521__20250101_0000__20250131_2359.xlsx", false, "Parking Servis"},
		{"Servis__SDP_NTH_Apps_20250131.xls", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			assert.Equal(t, tt.parking, IsParkingReportName(tt.file))
			assert.Equal(t, tt.want, ParkingOperator(tt.file))
		})
	}
}
