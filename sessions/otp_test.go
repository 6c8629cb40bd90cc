package sessions

import "testing"

func TestGenerateOTPShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		otp, err := GenerateOTP(DefaultOTPLength)
		if err != nil {
			t.Fatalf("GenerateOTP: %v", err)
		}
		if len(otp) != DefaultOTPLength {
			t.Fatalf("len(%q) = %d, want %d", otp, len(otp), DefaultOTPLength)
		}
		for _, c := range otp {
			if c < '0' || c > '9' {
				t.Fatalf("otp %q contains non-digit %q", otp, c)
			}
		}
	}
}

func TestGenerateOTPDefaultsLength(t *testing.T) {
	otp, err := GenerateOTP(0)
	if err != nil {
		t.Fatalf("GenerateOTP: %v", err)
	}
	if len(otp) != DefaultOTPLength {
		t.Fatalf("len = %d, want default %d", len(otp), DefaultOTPLength)
	}
}
