package validate

type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpInput struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName string  `json:"fullName"`
	Company  *string `json:"company,omitempty"`
}

type ForgotPasswordInput struct {
	Email string `json:"email"`
}

type ResetPasswordInput struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type ProfileInput struct {
	FullName string  `json:"fullName"`
	Company  *string `json:"company,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

// SignIn returns in with the email normalized.
func SignIn(in SignInInput) (SignInInput, Result) {
	var res Result
	email, r := Email(in.Email)
	res.merge(r)
	res.merge(SignInPassword(in.Password))
	return SignInInput{Email: email, Password: in.Password}, res
}

func SignUp(in SignUpInput) (SignUpInput, Result) {
	var res Result
	out := SignUpInput{Password: in.Password}
	var r Result
	out.Email, r = Email(in.Email)
	res.merge(r)
	res.merge(NewPassword(in.Password))
	out.FullName, r = FullName(in.FullName)
	res.merge(r)
	out.Company, r = Company(in.Company)
	res.merge(r)
	return out, res
}

func ForgotPassword(in ForgotPasswordInput) (ForgotPasswordInput, Result) {
	email, res := Email(in.Email)
	return ForgotPasswordInput{Email: email}, res
}

// ResetPassword reports a mismatch on confirmPassword.
func ResetPassword(in ResetPasswordInput) (ResetPasswordInput, Result) {
	res := NewPassword(in.Password)
	if in.Password != in.ConfirmPassword {
		res.Issues = append(res.Issues, Issue{Path: "confirmPassword", Message: "Passwords don't match"})
	}
	return in, res
}

func Profile(in ProfileInput) (ProfileInput, Result) {
	var (
		res Result
		out ProfileInput
		r   Result
	)
	out.FullName, r = FullName(in.FullName)
	res.merge(r)
	out.Company, r = Company(in.Company)
	res.merge(r)
	out.Phone, r = Phone(in.Phone)
	res.merge(r)
	return out, res
}
