package services

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/corebank/backoffice/internal/config"
	"github.com/corebank/backoffice/internal/models"
)

// ISO20022Service renders processed transfers as pacs.008 credit transfer
// messages for beneficiaries held at other banks, and pacs.002 status
// reports for the originating side.
type ISO20022Service struct {
	cfg       *config.BankConfig
	validator *ValidationHelper
}

func NewISO20022Service(cfg *config.BankConfig) *ISO20022Service {
	return &ISO20022Service{
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// ConvertToISO20022 converts a fund transfer to ISO20022 format
// @Summary Convert to ISO20022
// @Description Convert fund transfer data to a pacs.008 XML message
// @Tags iso20022
// @Accept json
// @Produce json
// @Param transfer body models.FundTransfer true "Transfer to convert"
// @Success 200 {object} object{status=string,messageType=string,xml=string}
// @Failure 400 {object} ErrorResponse
// @Router /iso20022/convert [post]
func (iso *ISO20022Service) ConvertToISO20022(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req models.FundTransfer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	pacs008, err := iso.CreatePacs008(&req)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	xmlData, err := iso.ConvertToXML(pacs008)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "converted",
		"messageType": "pacs.008.001.08",
		"xml":         xmlData,
	})
}

// DispatchCreditTransfer renders a processed transfer to an external
// beneficiary as pacs.008 and hands it to the clearing channel.
func (iso *ISO20022Service) DispatchCreditTransfer(transfer *models.FundTransfer) error {
	doc, err := iso.CreatePacs008(transfer)
	if err != nil {
		return err
	}
	return iso.sendToClearing(doc)
}

func (iso *ISO20022Service) sendToClearing(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: replace with the BISERA/RINGS submission channel once available
	log.Printf("[ISO20022] Outward message:\n%s", string(xmlData))
	return nil
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message
func (iso *ISO20022Service) CreatePacs008(transfer *models.FundTransfer) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	amount, _ := transfer.Amount.Float64()
	endToEnd := transfer.ReferenceCBS
	if endToEnd == "" {
		endToEnd = fmt.Sprintf("%s%08d", iso.cfg.ReferencePrefix, transfer.ID)
	}
	instrId := common.Max35Text(fmt.Sprintf("%d", transfer.ID))
	creditorBIC := transfer.BICBeneficiary

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(transfer.CurrencyCode),
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
					InstrId:    &instrId,
					EndToEndId: common.Max35Text(endToEnd),
					TxId:       &instrId,
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(transfer.CurrencyCode),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(iso.cfg.BIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(fmt.Sprintf("account %d", transfer.AccountID))}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(creditorBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(transfer.NameBeneficiary)}[0],
				},
				CdtrAcct: &pacs_v08.CashAccount38{
					Id: pacs_v08.AccountIdentification4Choice{
						IBAN: &[]common.IBAN2007Identifier{common.IBAN2007Identifier(transfer.IBANBeneficiary)}[0],
					},
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 creates a pacs.002 payment status report
func (iso *ISO20022Service) CreatePacs002(transfer *models.FundTransfer, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	instrId := common.Max35Text(fmt.Sprintf("%d", transfer.ID))
	endToEnd := common.Max35Text(transfer.ReferenceCBS)

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &instrId,
				OrgnlEndToEndId: &endToEnd,
				OrgnlTxId:       &instrId,
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0], // ACCP, RJCT, ACSC, etc.
			},
		},
	}

	return doc, nil
}

// ConvertToXML converts ISO20022 document to XML string
func (iso *ISO20022Service) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
