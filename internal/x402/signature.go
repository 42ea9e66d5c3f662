package x402

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
)

// ExtractSignature pulls the transaction signature out of a payment proof.
// A serialized transaction is deserialized and its first signature taken;
// failing that, an explicit signature field is accepted as-is.
func ExtractSignature(proof PaymentProof) (string, error) {
	if proof.SerializedTransaction != "" {
		raw, err := base64.StdEncoding.DecodeString(proof.SerializedTransaction)
		if err != nil {
			return "", fmt.Errorf("%w: serialized transaction is not valid base64", ErrInvalidFormat)
		}

		tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
		if err != nil {
			return "", fmt.Errorf("%w: failed to deserialize transaction", ErrInvalidFormat)
		}

		if len(tx.Signatures) == 0 || tx.Signatures[0] == (solana.Signature{}) {
			return "", fmt.Errorf("%w: transaction is unsigned", ErrInvalidFormat)
		}

		return tx.Signatures[0].String(), nil
	}

	if proof.Signature != "" {
		return proof.Signature, nil
	}

	return "", fmt.Errorf("%w: payment proof carries no transaction", ErrInvalidFormat)
}
