package services

import (
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/vitawell/backend/internal/models"
)

const payoutDebtorBIC = "VITAWELL"

// PayoutService renders paid withdrawals as ISO 20022 messages for the
// payout rail. The rail integration itself is stubbed; messages are logged
// and handed back for reconciliation.
type PayoutService struct{}

func NewPayoutService() *PayoutService {
	return &PayoutService{}
}

// ExportWithdrawal builds and ships the pacs.008 for a paid withdrawal
func (p *PayoutService) ExportWithdrawal(w *models.WithdrawalRequest) error {
	doc, err := p.BuildPacs008(w)
	if err != nil {
		return err
	}
	return p.SendToPayout(doc)
}

// BuildPacs008 creates a pacs.008 FIToFICustomerCreditTransfer for one withdrawal
func (p *PayoutService) BuildPacs008(w *models.WithdrawalRequest) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if w == nil {
		return nil, fmt.Errorf("withdrawal is required")
	}

	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	amount := w.AmountRub.InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(models.CurrencyRUB),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(w.ID)}[0],
					EndToEndId: common.Max35Text(w.ID),
					TxId:       &[]common.Max35Text{common.Max35Text(w.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(models.CurrencyRUB),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(payoutDebtorBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("VitaWell Club")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(w.Payload.BankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(w.Destination)}[0],
				},
			},
		},
	}

	return doc, nil
}

// BuildPacs002 creates a pacs.002 status report for reconciliation
func (p *PayoutService) BuildPacs002(w *models.WithdrawalRequest, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	if w == nil {
		return nil, fmt.Errorf("withdrawal is required")
	}

	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(w.ID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(w.ID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(w.ID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0], // ACCP, RJCT, ACSC, etc.
			},
		},
	}

	return doc, nil
}

// ConvertToXML converts an ISO 20022 document to an XML string
func (p *PayoutService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

// SendToPayout hands a message to the payout rail
func (p *PayoutService) SendToPayout(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: wire the bank's payout gateway once credentials are issued
	log.Printf("[PAYOUT] Sending to payout rail: %s", string(xmlData))
	return nil
}
