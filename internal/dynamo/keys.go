// Package dynamo provides shared DynamoDB constants and utilities.
package dynamo

const (
	// Primary key attributes.
	AttrPK = "pk"
	AttrSK = "sk"

	// Key prefixes.
	PrefixAccount = "ACCOUNT#"
)

// AccountPK returns the partition key shared by every item of an account.
func AccountPK(accountID string) string {
	return PrefixAccount + accountID
}
