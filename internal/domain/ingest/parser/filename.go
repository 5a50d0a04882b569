package parser

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
)

// Filename formats
const (
	FormatSDP          = "SDP"
	FormatMicropayment = "MICROPAYMENT"
	FormatUnknown      = "UNKNOWN"
)

// Contract types recognised in report filenames
const (
	ContractApps     = "APPS"
	ContractMedia    = "MEDIA"
	ContractStandard = "STANDARD"
	ContractCommerce = "COMMERCE"
	ContractGeneral  = "GENERAL"
)

var (
	uploadPrefix = regexp.MustCompile(`^\d+_`)

	sdpFilename    = regexp.MustCompile(`(?i)^Servis_{1,3}SDP_{1,3}([A-Za-z0-9 ]+?)_+([A-Za-z]+)_(\d{8})\.xlsx?$`)
	sdpLegacy      = regexp.MustCompile(`(?i)^Servis_{1,3}SDP_{1,3}([A-Za-z0-9 ]+?)_`)
	micropayment   = regexp.MustCompile(`(?i)^Servis_{1,3}MicropaymentMerchantReport_(.+?)_(\d+)__(\d{8})_\d{4}__\d{8}_\d{4}\.xlsx?$`)
	micropayLegacy = regexp.MustCompile(`(?i)^Servis_{1,3}MicropaymentMerchantReport_([A-Za-z0-9]+)_(Apps|Standard|Media)_`)

	parkingNames = []*regexp.Regexp{
		regexp.MustCompile(`_mParking_(.+?)_\d+__\d+_`),
		regexp.MustCompile(`^Parking_(.+?)_\d{8}`),
	}
	parkingMerchant = regexp.MustCompile(`Servis_{1,3}MicropaymentMerchantReport_(.+?)__\d+_`)
	longDigits      = regexp.MustCompile(`\d{4,}`)

	fallbackProvider = regexp.MustCompile(`[A-Za-z0-9]{3,5}`)
	eightDigitDate   = regexp.MustCompile(`(?:^|\D)(\d{8})(?:\D|$)`)
	yearInName       = regexp.MustCompile(`(?:^|\D)(20\d{2})(?:\D|$)`)
)

// now is replaced in tests
var now = time.Now

// ReportFilename is what a report's filename says about its contents
type ReportFilename struct {
	Original     string
	Format       string
	Provider     string
	ContractType string
	ContractName string
	MerchantID   string
	// ReportDate is zero when the name carries no date
	ReportDate time.Time
	Year       int
}

// ParseReportFilename extracts provider, contract type and report date from a
// provider report filename. Unrecognised names still yield a provider guess
// and the current year.
func ParseReportFilename(name string, canon *normalizer.ProviderCanonicalizer) ReportFilename {
	if canon == nil {
		canon = normalizer.NewProviderCanonicalizer()
	}

	base := uploadPrefix.ReplaceAllString(filepath.Base(name), "")
	res := ReportFilename{Original: name, Format: FormatUnknown, ContractType: ContractGeneral}

	switch {
	case sdpFilename.MatchString(base):
		m := sdpFilename.FindStringSubmatch(base)
		res.Format = FormatSDP
		res.Provider = canon.Canonicalize(m[1])
		res.ContractType = strings.ToUpper(m[2])
		res.ReportDate, _ = parseCompactDate(m[3])

	case micropayment.MatchString(base):
		m := micropayment.FindStringSubmatch(base)
		res.Format = FormatMicropayment
		res.Provider, res.ContractType = micropaymentParts(m[1], canon)
		res.MerchantID = m[2]
		res.ReportDate, _ = parseCompactDate(m[3])

	case micropayLegacy.MatchString(base):
		m := micropayLegacy.FindStringSubmatch(base)
		res.Format = FormatMicropayment
		res.Provider = canon.Canonicalize(m[1])
		res.ContractType = strings.ToUpper(m[2])

	case sdpLegacy.MatchString(base):
		m := sdpLegacy.FindStringSubmatch(base)
		res.Format = FormatSDP
		res.Provider = canon.Canonicalize(m[1])
		res.ContractType = contractTypeIn(base[len(m[0]):])

	default:
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if p := fallbackProvider.FindString(stem); p != "" {
			res.Provider = canon.Canonicalize(p)
		}
		res.ContractType = contractTypeIn(stem)
	}

	if res.Provider == "" {
		res.Provider = "UNK"
	}
	if res.ReportDate.IsZero() {
		if m := eightDigitDate.FindStringSubmatch(base); m != nil {
			res.ReportDate, _ = parseCompactDate(m[1])
		}
	}

	res.Year = reportYear(res.ReportDate, base)
	res.ContractName = res.Provider + "_" + res.ContractType
	return res
}

// micropaymentParts reads the provider and contract type from the middle of a
// micropayment report name: "EKG", "NPay_Apps", "SDP_Standard_CePP", "NTHDCB_Apps".
func micropaymentParts(middle string, canon *normalizer.ProviderCanonicalizer) (string, string) {
	var parts []string
	for _, p := range strings.Split(middle, "_") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", ContractGeneral
	}

	first := strings.ToUpper(parts[0])
	switch {
	case strings.Contains(first, "NTHDCB"):
		if len(parts) > 1 {
			return "NTH", "DCB_" + strings.ToUpper(parts[1])
		}
		return "NTH", ContractGeneral
	case first == "SDP" && len(parts) >= 3:
		return canon.Canonicalize(strings.Join(parts[2:], " ")), strings.ToUpper(parts[1])
	case len(parts) > 1:
		return canon.Canonicalize(parts[0]), strings.ToUpper(parts[1])
	}
	return canon.Canonicalize(parts[0]), ContractGeneral
}

func contractTypeIn(s string) string {
	upper := strings.ToUpper(s)
	for _, t := range []string{ContractApps, ContractMedia, ContractStandard, ContractCommerce} {
		if strings.Contains(upper, t) {
			return t
		}
	}
	return ContractGeneral
}

func parseCompactDate(s string) (time.Time, bool) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// reportYear prefers the report date, then a plausible year in the name,
// then the current year.
func reportYear(date time.Time, base string) int {
	current := now().Year()
	valid := func(y int) bool { return y >= 2000 && y <= current+1 }

	if !date.IsZero() && valid(date.Year()) {
		return date.Year()
	}
	if m := yearInName.FindStringSubmatch(base); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil && valid(y) {
			return y
		}
	}
	return current
}

// IsParkingReportName reports whether name follows one of the parking
// operator export conventions.
func IsParkingReportName(name string) bool {
	base := uploadPrefix.ReplaceAllString(filepath.Base(name), "")
	for _, re := range parkingNames {
		if re.MatchString(base) {
			return true
		}
	}
	return false
}

// ParkingOperator extracts the parking operator from a report filename:
// underscores become spaces, words are title-cased and runs of four or more
// digits are dropped. It returns "" when the name follows no known convention.
func ParkingOperator(name string) string {
	base := uploadPrefix.ReplaceAllString(filepath.Base(name), "")

	patterns := append(append([]*regexp.Regexp{}, parkingNames...), parkingMerchant)
	for _, re := range patterns {
		m := re.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		op := cases.Title(language.Und).String(strings.ReplaceAll(m[1], "_", " "))
		op = strings.Join(strings.Fields(longDigits.ReplaceAllString(op, "")), " ")
		if op != "" {
			return op
		}
	}
	return ""
}
