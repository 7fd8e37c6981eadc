package services

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/campusmart/backend/internal/models"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

const PayoutMessageType = "pacs.008.001.08"

// ISO20022Service renders withdrawal payouts as pacs.008 credit transfers for
// the banking partner
type ISO20022Service struct {
	sourceBIC  string
	sourceName string
	now        func() time.Time
}

func NewISO20022Service(sourceBIC, sourceName string) *ISO20022Service {
	return &ISO20022Service{sourceBIC: sourceBIC, sourceName: sourceName, now: time.Now}
}

// CreatePayoutCreditTransfer builds the pacs.008 for a withdrawal. Only the
// net amount moves; the fee stays with the platform.
func (iso *ISO20022Service) CreatePayoutCreditTransfer(req *models.WithdrawalRequest, currency string) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if req == nil || req.Reference == "" {
		return nil, fmt.Errorf("withdrawal reference is required")
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("withdrawal %s has no amount", req.Reference)
	}

	msgId := uuid.New().String()
	creDtTm := iso.now()
	settlementDate := creDtTm
	amount := req.Amount.Round(2).InexactFloat64()
	reference := common.Max35Text(req.Reference)

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &reference,
					EndToEndId: reference,
					TxId:       &reference,
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(iso.sourceBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(iso.sourceName)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(req.BankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(req.AccountName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// PayoutInstruction assembles everything the banking partner needs for one payout
func (iso *ISO20022Service) PayoutInstruction(req *models.WithdrawalRequest, currency string) (PayoutInstruction, error) {
	doc, err := iso.CreatePayoutCreditTransfer(req, currency)
	if err != nil {
		return PayoutInstruction{}, err
	}
	xmlData, err := iso.ConvertToXML(doc)
	if err != nil {
		return PayoutInstruction{}, err
	}
	return PayoutInstruction{
		Reference:     req.Reference,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		Amount:        req.Amount,
		Currency:      currency,
		Document:      xmlData,
	}, nil
}

// ConvertToXML converts ISO20022 document to XML string
func (iso *ISO20022Service) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
