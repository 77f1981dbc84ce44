/*
# TDX Attestation Data Types

This package contains data types and parsing functions used for TDX attestation.

All parsers return a [*DecodeError] on malformed input. Parsed values never share memory with the input buffer.

## TDX Quote Format

	To give a *rough* understanding of how a TDX quote (v4 / v5) is formed see the graphic below:

	          Quote                           QuoteSignatureData                       QEReportCertificationData
	        ParseQuote                        parseSignatureData                    parseQEReportCertificationData
	┌─────────────────────────┐     ┌───────────────────────────────────────┐     ┌─────────────────────────────────────┐
	│       QuoteHeader       │     │               Signature               │     │            EnclaveReport            │
	│       (48 bytes)        │     │               (64 bytes)              │     │             (384 bytes)             │
	├─────────────────────────┤     ├───────────────────────────────────────┤     ├─────────────────────────────────────┤
	│   v5: body descriptor   │     │            AttestationKey             │     │              Signature              │
	│   type (2), size (4)    │     │               (64 bytes)              │     │             (64 bytes)              │
	├─────────────────────────┤     ├───────────────────────────────────────┤     ├─────────────────────────────────────┤
	│       TDQuoteBody       │     │     CertificationData type == 6       │     │     AuthData size (2 bytes)         │
	│  TD 1.0: 584 bytes      │     │         size (4 bytes)                │     │     AuthData (variable)             │
	│  TD 1.5: 648 bytes      │     ├───────────────────────────────────────┤     ├─────────────────────────────────────┤
	├─────────────────────────┤     │                                       │     │   CertificationData type == 5       │
	│     SignatureLength     │     │       QEReportCertificationData       ├────►│        size (4 bytes)               │
	│        (4 bytes)        │     │              (variable)               │     │   PCK certificate chain (PEM, \0)   │
	├─────────────────────────┤     │                                       │     │            parsePCKCertChainData    │
	│   QuoteSignatureData    ├────►│                                       │     │                                     │
	│       (variable)        │     └───────────────────────────────────────┘     └─────────────────────────────────────┘
	└─────────────────────────┘

The quote signature covers the header, the v5 body descriptor, and the body; see [Quote.SignedData].

## TDREPORT Format

A TDREPORT (1024 bytes) is the local report returned by the TDX guest device. It consists of
REPORTMACSTRUCT (256 bytes), TEE_TCB_INFO (239 bytes), 17 reserved bytes and TDINFO (512 bytes).
*/
package types
