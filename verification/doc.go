// Package verification binds user consent to the exact transaction terms.
//
// The challenge handed to the authenticator is the canonical hash of the
// TransactionTermsManifest, so an assertion can only approve one set of
// terms. Approved assertions are turned into ConsentReceipts, and
// AssertForSettlement is the final gate checked before money moves.
package verification
