package services

import (
	"encoding/json"
	"net/http"

	"github.com/vitawell/backend/internal/models"
)

// PayoutBank is one supported withdrawal destination. Codes are BIKs.
type PayoutBank struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Methods []string `json:"methods"`
}

var russianPayoutBanks = []PayoutBank{
	{Code: "044525225", Name: "Sberbank", Methods: []string{models.MethodBankTransfer, models.MethodCard}},
	{Code: "044525187", Name: "VTB", Methods: []string{models.MethodBankTransfer, models.MethodCard}},
	{Code: "044525823", Name: "Gazprombank", Methods: []string{models.MethodBankTransfer}},
	{Code: "044525593", Name: "Alfa-Bank", Methods: []string{models.MethodBankTransfer, models.MethodCard}},
	{Code: "044525974", Name: "T-Bank", Methods: []string{models.MethodBankTransfer, models.MethodCard}},
	{Code: "044525700", Name: "Raiffeisenbank", Methods: []string{models.MethodBankTransfer}},
	{Code: "044525985", Name: "Otkritie", Methods: []string{models.MethodBankTransfer}},
	{Code: "044525360", Name: "Sovcombank", Methods: []string{models.MethodBankTransfer, models.MethodCard}},
	{Code: "044525256", Name: "Rosbank", Methods: []string{models.MethodBankTransfer}},
	{Code: "044525555", Name: "Promsvyazbank", Methods: []string{models.MethodBankTransfer}},
	{Code: "044525659", Name: "Moscow Credit Bank", Methods: []string{models.MethodBankTransfer}},
	{Code: "044525214", Name: "Pochta Bank", Methods: []string{models.MethodBankTransfer, models.MethodCard}},
	{Code: "044525232", Name: "MTS Bank", Methods: []string{models.MethodBankTransfer, models.MethodCard}},
	{Code: "044525787", Name: "Uralsib", Methods: []string{models.MethodBankTransfer}},
	{Code: "049205805", Name: "Ak Bars Bank", Methods: []string{models.MethodBankTransfer}},
	{Code: "044525444", Name: "Yandex Bank", Methods: []string{models.MethodCard}},
	{Code: "044525262", Name: "Ozon Bank", Methods: []string{models.MethodCard}},
}

// BankService serves the static payout destination directory used by
// withdrawal forms.
type BankService struct{}

func NewBankService() *BankService {
	return &BankService{}
}

// Supports reports whether a bank code accepts the payout method
func (bs *BankService) Supports(code, method string) bool {
	for _, bank := range russianPayoutBanks {
		if bank.Code != code {
			continue
		}
		for _, m := range bank.Methods {
			if m == method {
				return true
			}
		}
		return false
	}
	return false
}

// GetAllBanks lists supported payout banks
// @Summary List payout banks
// @Description Supported withdrawal destination banks and their payout methods
// @Tags banks
// @Produce json
// @Success 200 {array} PayoutBank
// @Router /payout-banks [get]
func (bs *BankService) GetAllBanks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(russianPayoutBanks)
}
