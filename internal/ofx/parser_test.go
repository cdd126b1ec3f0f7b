package ofx

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxbooks/reckon/internal/model"
)

const sampleBankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240215120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240110120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011001
<NAME>GROCERY MART #42
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>200.00
<FITID>2024011501
<NAME>ACH DEPOSIT PAYROLL
</STMTTRN>
<STMTTRN>
<TRNTYPE>CHECK
<DTPOSTED>20240125120000[0:GMT]
<TRNAMT>-500.00
<FITID>2024012501
<CHECKNUM>1234
<NAME>CHECK #1234
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

func TestParser_ParseFile(t *testing.T) {
	parser := NewParser()

	statements, err := parser.ParseFile(context.Background(), strings.NewReader(sampleBankOFX))
	require.NoError(t, err)
	require.Len(t, statements, 1)

	stmt := statements[0]
	assert.Equal(t, "1234567890", stmt.BankAccountID)
	assert.Equal(t, 2024, stmt.PeriodStart.Year())
	assert.Equal(t, 1, int(stmt.PeriodStart.Month()))
	require.Len(t, stmt.Lines, 3)

	// Closing comes from the ledger balance; opening is rolled back from it
	assert.InDelta(t, 1000.00, stmt.ClosingBalance, 0.001)
	assert.InDelta(t, 1325.50, stmt.OpeningBalance, 0.001)
}

func TestParser_ParseFile_LineConversion(t *testing.T) {
	parser := NewParser()

	statements, err := parser.ParseFile(context.Background(), strings.NewReader(sampleBankOFX))
	require.NoError(t, err)
	require.Len(t, statements, 1)

	lines := statements[0].Lines

	// Negative OFX amounts become non-negative debits
	debit := lines[0]
	assert.Equal(t, model.StatementDebit, debit.Type)
	assert.InDelta(t, 25.50, debit.Amount, 0.001)
	assert.InDelta(t, -25.50, debit.SignedAmount(), 0.001)
	assert.Equal(t, "GROCERY MART #42", debit.Description)
	// FITID backfills the reference when RefNum is absent
	assert.Equal(t, "2024011001", debit.ReferenceNumber)
	assert.NotEmpty(t, debit.ID)

	credit := lines[1]
	assert.Equal(t, model.StatementCredit, credit.Type)
	assert.InDelta(t, 200.00, credit.Amount, 0.001)

	check := lines[2]
	assert.Equal(t, model.StatementDebit, check.Type)
	assert.Equal(t, "1234", check.CheckNumber)

	// Running balances walk forward from the opening balance
	assert.InDelta(t, 1300.00, lines[0].RunningBalance, 0.001)
	assert.InDelta(t, 1500.00, lines[1].RunningBalance, 0.001)
	assert.InDelta(t, 1000.00, lines[2].RunningBalance, 0.001)

	// Line ids are stable content hashes
	assert.Equal(t, lines[0].GenerateHash(), lines[0].ID)
	assert.NotEqual(t, lines[0].ID, lines[1].ID)
}

func TestParser_ParseFile_InvalidInput(t *testing.T) {
	parser := NewParser()

	_, err := parser.ParseFile(context.Background(), strings.NewReader("not an ofx file"))
	require.Error(t, err)
}

func TestPreprocessOFX(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "uppercases severity",
			in:   "<SEVERITY>Info</SEVERITY>",
			want: "<SEVERITY>INFO</SEVERITY>",
		},
		{
			name: "closes bare sgml tags",
			in:   "<OFX\n<SIGNONMSGSRSV1",
			want: "<OFX>\n<SIGNONMSGSRSV1>",
		},
		{
			name: "strips leading whitespace",
			in:   "\n\n  OFXHEADER:100",
			want: "OFXHEADER:100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parser.preprocessOFX(tt.in))
		})
	}
}
