package deposit

import (
	"fmt"
	"strings"
)

// ClassifyFileRole maps a declared file role to its deposit file type.
// Matching is case-insensitive; unknown roles yield ErrUnparseable.
func ClassifyFileRole(role FileRole) (DepositFileType, error) {
	switch FileRole(strings.ToUpper(strings.TrimSpace(string(role)))) {
	case FileRoleManuscript:
		return FileTypeManuscript, nil
	case FileRoleSupplemental:
		return FileTypeSupplement, nil
	case FileRoleFigure:
		return FileTypeFigure, nil
	case FileRoleTable:
		return FileTypeTable, nil
	default:
		return "", fmt.Errorf("file role %q: %w", role, ErrUnparseable)
	}
}

// ParsePublicationType parses a journal publication type description such as
// "Print", "Online" or "epub". Unknown descriptions yield ErrUnparseable.
func ParsePublicationType(desc string) (JournalPublicationType, error) {
	switch strings.ToLower(strings.TrimSpace(desc)) {
	case "print", "ppub":
		return PublicationTypePrint, nil
	case "electronic", "online", "epub":
		return PublicationTypeElectronic, nil
	default:
		return "", fmt.Errorf("publication type %q: %w", desc, ErrUnparseable)
	}
}

// ParseTypedISSN splits a "<Type>:<issn>" pair as stored on journal
// entities. A bare ISSN has no publication type and yields ErrUnparseable.
func ParseTypedISSN(s string) (IssnPubType, error) {
	typ, issn, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(issn) == "" {
		return IssnPubType{}, fmt.Errorf("typed issn %q: %w", s, ErrUnparseable)
	}
	pubType, err := ParsePublicationType(typ)
	if err != nil {
		return IssnPubType{}, err
	}
	return IssnPubType{ISSN: strings.TrimSpace(issn), PubType: pubType}, nil
}
