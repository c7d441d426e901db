package mail

import (
	"fmt"
	"strconv"

	"github.com/transfa/transfer-service/internal/domain"
)

// DateLayout is how transfer timestamps appear in emails.
const DateLayout = "02 January 2006, 15:04"

// TransferReceivedJob builds the email telling recipient that sender moved money to them.
func TransferReceivedJob(recipient, sender domain.Account, transfer domain.Transfer) *domain.EmailJob {
	amount := transfer.Amount.StringFixed(2)
	return &domain.EmailJob{
		To:       recipient.Email,
		Subject:  fmt.Sprintf("Transfer Received: $%s from %s", amount, sender.Name),
		Template: domain.TemplateTransferReceived,
		Variables: map[string]interface{}{
			"recipientName": recipient.Name,
			"senderName":    sender.Name,
			"amount":        amount,
			"transactionId": strconv.FormatInt(transfer.ID, 10),
			"date":          transfer.CreatedAt.Format(DateLayout),
		},
	}
}
