package provider

type Provider string

func (p Provider) Match(in Provider) bool {
	return p == in
}

const (
	UNKNOWN_PROVIDER Provider = ""
	TBC_INSTALLMENT  Provider = "tbc_installment"
)
