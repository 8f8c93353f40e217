package services

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Bank is one entry of the domestic bank directory: the four letter bank
// code embedded in Bulgarian IBANs and the full BIC used on outward
// pacs.008 messages.
type Bank struct {
	Code string `json:"code"`
	BIC  string `json:"bic"`
	Name string `json:"name"`
}

var bulgarianBanks = []Bank{
	{Code: "BNBG", BIC: "BNBGBGSD", Name: "Bulgarian National Bank"},
	{Code: "BNPA", BIC: "BNPABGSX", Name: "BNP Paribas S.A. Sofia Branch"},
	{Code: "BPBI", BIC: "BPBIBGSF", Name: "Postbank (Eurobank Bulgaria)"},
	{Code: "BUIN", BIC: "BUINBGSF", Name: "Allianz Bank Bulgaria"},
	{Code: "CECB", BIC: "CECBBGSF", Name: "Central Cooperative Bank"},
	{Code: "CRBK", BIC: "CRBKBGSF", Name: "Corebank Bulgaria"},
	{Code: "DEMI", BIC: "DEMIBGSF", Name: "D Commerce Bank"},
	{Code: "FINV", BIC: "FINVBGSF", Name: "First Investment Bank"},
	{Code: "IABG", BIC: "IABGBGSF", Name: "International Asset Bank"},
	{Code: "IORT", BIC: "IORTBGSF", Name: "Investbank"},
	{Code: "PRCB", BIC: "PRCBBGSF", Name: "ProCredit Bank Bulgaria"},
	{Code: "RZBB", BIC: "RZBBBGSF", Name: "KBC Bank Bulgaria"},
	{Code: "SOMB", BIC: "SOMBBGSF", Name: "Municipal Bank"},
	{Code: "STSA", BIC: "STSABGSF", Name: "DSK Bank"},
	{Code: "TEXI", BIC: "TEXIBGSF", Name: "Texim Bank"},
	{Code: "TTBB", BIC: "TTBBBG22", Name: "Tokuda Bank"},
	{Code: "UBBS", BIC: "UBBSBGSF", Name: "United Bulgarian Bank"},
	{Code: "UNCR", BIC: "UNCRBGSF", Name: "UniCredit Bulbank"},
}

// BankService serves the domestic bank directory used to resolve the
// beneficiary bank from an IBAN.
type BankService struct{}

func NewBankService() *BankService {
	return &BankService{}
}

// GetAllBanks lists the bank directory
// @Summary List domestic banks
// @Tags banks
// @Produce json
// @Success 200 {array} Bank
// @Router /banks [get]
func (bs *BankService) GetAllBanks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(bulgarianBanks)
}

// ResolveBankByIBAN looks up the bank directory entry for an IBAN
// @Summary Resolve bank from IBAN
// @Description Resolve the bank directory entry from the bank code embedded in a Bulgarian IBAN
// @Tags banks
// @Produce json
// @Param iban query string true "IBAN"
// @Success 200 {object} Bank
// @Failure 404 {object} ErrorResponse
// @Router /banks/resolve [get]
func (bs *BankService) ResolveBankByIBAN(w http.ResponseWriter, r *http.Request) {
	iban := strings.ToUpper(strings.ReplaceAll(r.URL.Query().Get("iban"), " ", ""))
	if len(iban) < 8 || !strings.HasPrefix(iban, "BG") {
		SendErrorResponse(w, "Not a Bulgarian IBAN", http.StatusBadRequest, nil)
		return
	}

	bank, ok := bs.LookupByCode(iban[4:8])
	if !ok {
		SendErrorResponse(w, "Unknown bank code", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bank)
}

// LookupByCode finds a bank by its four letter IBAN bank code.
func (bs *BankService) LookupByCode(code string) (Bank, bool) {
	for _, b := range bulgarianBanks {
		if b.Code == code {
			return b, true
		}
	}
	return Bank{}, false
}
