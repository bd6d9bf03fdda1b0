package headers

import (
	"reflect"
	"testing"
)

func TestParseProperty(t *testing.T) {
	tests := []struct {
		input   string
		want    *Property
		wantErr bool
	}{
		{input: "header:X-Tracking", want: &Property{Name: "X-Tracking", Form: FormRaw}},
		{input: "header:Subject:asText", want: &Property{Name: "Subject", Form: FormText}},
		{input: "header:Resent-To:asAddresses:all", want: &Property{Name: "Resent-To", Form: FormAddresses, All: true}},
		{input: "header:X-Note:all", want: &Property{Name: "X-Note", Form: FormRaw, All: true}},
		{input: "header:List-Post:asURLs", want: &Property{Name: "List-Post", Form: FormURLs}},
		{input: "header:In-Reply-To:asMessageIds", want: &Property{Name: "In-Reply-To", Form: FormMessageIds}},
		{input: "header:Resent-Date:asDate", want: &Property{Name: "Resent-Date", Form: FormDate}},
		{input: "subject", wantErr: true},
		{input: "header:", wantErr: true},
		{input: "header:X-A:asBogus", wantErr: true},
		{input: "header:X-A:asText:asRaw", wantErr: true},
		{input: "header:From:asText", wantErr: true},
		{input: "header:X-Custom:asAddresses", wantErr: true},
		{input: "header:Subject:asMessageIds", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProperty(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProperty(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseProperty(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateForm(t *testing.T) {
	tests := []struct {
		header string
		form   Form
		valid  bool
	}{
		{"Subject", FormRaw, true},
		{"From", FormRaw, true},
		{"Subject", FormText, true},
		{"List-Id", FormText, true},
		{"X-Custom-Header", FormText, true},
		{"Date", FormText, false},
		{"from", FormAddresses, true},
		{"Resent-Cc", FormGroupedAddresses, true},
		{"Subject", FormAddresses, false},
		{"References", FormMessageIds, true},
		{"Date", FormDate, true},
		{"X-Date", FormDate, false},
		{"List-Unsubscribe", FormURLs, true},
		{"Link", FormURLs, false},
		{"X-A", Form(99), false},
	}
	for _, tt := range tests {
		if err := ValidateForm(tt.header, tt.form); (err == nil) != tt.valid {
			t.Errorf("ValidateForm(%q, %v) = %v, want valid %v", tt.header, tt.form, err, tt.valid)
		}
	}
}
