package deposit

import "strings"

// NewPersonFromUser creates a Person from a structured user entity.
func NewPersonFromUser(u *User, t PersonType) Person {
	p := Person{
		FirstName:  strings.TrimSpace(u.FirstName),
		MiddleName: strings.TrimSpace(u.MiddleName),
		LastName:   strings.TrimSpace(u.LastName),
		Email:      strings.TrimSpace(u.Email),
		Type:       t,
	}
	if p.FirstName == "" && p.LastName == "" {
		p.FullName = strings.TrimSpace(u.DisplayName)
	}
	applyRoleFlags(&p)
	return p
}

// NewAuthor creates a name-only author Person.
func NewAuthor(fullName string) Person {
	p := Person{
		FullName: strings.TrimSpace(fullName),
		Type:     PersonTypeAuthor,
	}
	applyRoleFlags(&p)
	return p
}

func applyRoleFlags(p *Person) {
	switch p.Type {
	case PersonTypePI:
		p.PI = true
	case PersonTypeAuthor:
		p.Author = true
	}
}
